// MIT License
//
// Copyright (c) 2025 kubernetes-awscreds
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
	authnv1 "k8s.io/api/authentication/v1"
	corev1 "k8s.io/api/core/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/kubernetes-awscreds/awscreds"
	"github.com/kubernetes-awscreds/awscreds/providers/aws"
)

const (
	outputFormatJSON    = "json"
	outputFormatYAML    = "yaml"
	outputFormatReflect = "reflect"
)

var allowedOutputFormats = strings.Join([]string{
	outputFormatJSON,
	outputFormatYAML,
	outputFormatReflect,
}, ", ")

const agentRequestTimeout = 30 * time.Second

var getCredentialsCmdFlags struct {
	outputFormat   string
	tokenFile      string
	serviceAccount string
	stsRegion      string
}

func init() {
	getCmd.AddCommand(getCredentialsCmd)

	getCredentialsCmd.Flags().StringVarP(&getCredentialsCmdFlags.outputFormat, "output", "o", "",
		"The output format for the credentials. Allowed values: "+allowedOutputFormats)
	getCredentialsCmd.Flags().StringVarP(&getCredentialsCmdFlags.tokenFile, "token-file", "t", "",
		"Path to a service account token file. When not specified a token is created for the service account")
	getCredentialsCmd.Flags().StringVarP(&getCredentialsCmdFlags.serviceAccount, "service-account", "s", "",
		"The service account to create a token for. Defaults to the service account of the context")
	getCredentialsCmd.Flags().StringVarP(&getCredentialsCmdFlags.stsRegion, "sts-region", "r",
		envOrDefault(awscreds.EnvRegion, ""),
		"The region of the STS endpoint used to reflect the credentials")
}

var getCredentialsCmd = &cobra.Command{
	Use:   "credentials",
	Short: "Get AWS credentials from the agent for a service account.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		switch getCredentialsCmdFlags.outputFormat {
		case outputFormatJSON, outputFormatYAML, outputFormatReflect, "":
		default:
			return fmt.Errorf("invalid output format: '%s'. allowed values: %s",
				getCredentialsCmdFlags.outputFormat,
				allowedOutputFormats)
		}

		token, err := getToken(ctx)
		if err != nil {
			return err
		}

		creds, err := getAgentCredentials(ctx, getCmdFlags.agentAddress, token)
		if err != nil {
			return err
		}

		switch getCredentialsCmdFlags.outputFormat {
		case outputFormatJSON:
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(creds)
		case outputFormatYAML:
			b, err := json.Marshal(creds)
			if err != nil {
				return err
			}
			var v any
			if err := json.Unmarshal(b, &v); err != nil {
				return err
			}
			return yaml.NewEncoder(os.Stdout).Encode(v)
		}

		var roleARN string
		if getCredentialsCmdFlags.outputFormat == outputFormatReflect {
			roleARN, err = reflectCredentials(ctx, creds)
			if err != nil {
				return err
			}
		}

		printCredentials(os.Stdout, creds, roleARN)

		return nil
	},
}

func getToken(ctx context.Context) (string, error) {
	if f := getCredentialsCmdFlags.tokenFile; f != "" {
		b, err := os.ReadFile(f)
		if err != nil {
			return "", fmt.Errorf("failed to read token file: %w", err)
		}
		return strings.TrimSpace(string(b)), nil
	}

	conf, err := loadKubeConfig()
	if err != nil {
		return "", fmt.Errorf("failed to load kubeconfig: %w", err)
	}
	serviceAccountName := getCredentialsCmdFlags.serviceAccount
	if serviceAccountName == "" {
		serviceAccountName = rootCmdFlags.KubeServiceAccount
	}
	if rootCmdFlags.KubeNamespace == "" {
		return "", fmt.Errorf("namespace is required")
	}
	kubeClient, err := client.New(conf, client.Options{})
	if err != nil {
		return "", fmt.Errorf("failed to create kubernetes client: %w", err)
	}
	return getServiceAccountToken(ctx, kubeClient, client.ObjectKey{
		Name:      serviceAccountName,
		Namespace: rootCmdFlags.KubeNamespace,
	})
}

func getServiceAccountToken(ctx context.Context, kubeClient client.Client, ref client.ObjectKey) (string, error) {
	serviceAccount := &corev1.ServiceAccount{}
	if err := kubeClient.Get(ctx, ref, serviceAccount); err != nil {
		return "", fmt.Errorf("failed to get kubernetes service account: %w", err)
	}
	tokenReq := &authnv1.TokenRequest{}
	if err := kubeClient.SubResource("token").Create(ctx, serviceAccount, tokenReq); err != nil {
		return "", fmt.Errorf("failed to create kubernetes service account token: %w", err)
	}
	return tokenReq.Status.Token, nil
}

type agentError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func getAgentCredentials(ctx context.Context, agentAddress, token string) (*awscreds.TemporaryCredential, error) {
	ctx, cancel := context.WithTimeout(ctx, agentRequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, awscreds.CredentialsURL(agentAddress), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create agent request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call agent: %w", err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read agent response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var e agentError
		if err := json.Unmarshal(b, &e); err != nil || e.Message == "" {
			return nil, fmt.Errorf("agent returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
		}
		return nil, fmt.Errorf("agent returned %s: %s", e.Code, e.Message)
	}

	var creds awscreds.TemporaryCredential
	if err := json.Unmarshal(b, &creds); err != nil {
		return nil, fmt.Errorf("failed to decode agent response: %w", err)
	}
	return &creds, nil
}

func reflectCredentials(ctx context.Context, creds *awscreds.TemporaryCredential) (string, error) {
	stsRegion := getCredentialsCmdFlags.stsRegion
	if stsRegion == "" {
		return "", fmt.Errorf("no AWS region for the STS service was specified in --sts-region or %s env var",
			awscreds.EnvRegion)
	}
	provider, err := aws.NewProvider(ctx, aws.WithSTSRegion(stsRegion), aws.WithCredentials(creds))
	if err != nil {
		return "", err
	}
	arn, err := provider.CallerIdentity(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get caller identity: %w", err)
	}
	return arn, nil
}

func printCredentials(w io.Writer, c *awscreds.TemporaryCredential, arn string) {
	fmt.Fprintf(w, `Access Key ID:     %[1]s
Secret Access Key: %[2]s
Session Token:     %[3]s
Expires At:        %[4]s (%[5]s)
`,
		c.AccessKeyID,
		c.SecretAccessKey,
		c.SessionToken,
		c.Expiration.Format(time.RFC3339),
		c.GetDuration().Round(time.Second).String())

	if arn != "" {
		fmt.Fprintf(w, "Role ARN:          %s\n", arn)
	}
}

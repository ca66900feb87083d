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
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/client-go/util/homedir"
	"k8s.io/klog/v2"
	ctrllog "sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/kubernetes-awscreds/awscreds"
	"github.com/kubernetes-awscreds/awscreds/cmd/server"
)

const (
	envRoleMappingPath     = "ROLE_MAPPING_PATH"
	defaultRoleMappingPath = "/etc/awscreds/mappings.yaml"
)

var rootCmdFlags struct {
	KubeConfig         string `json:"kubeconfig"`
	KubeContext        string `json:"context"`
	KubeNamespace      string `json:"namespace"`
	KubeServiceAccount string `json:"serviceAccountName"`
	LogLevel           string `json:"logLevel"`
	MetricsAddress     string `json:"metricsAddress"`
	ReadyGracePeriod   int    `json:"readyGracePeriod"`
	RoleMappingPath    string `json:"roleMappingPath"`

	logger *logrus.Logger
}

func init() {
	rootCmd.PersistentFlags().StringVar(&rootCmdFlags.KubeConfig, "kubeconfig",
		filepath.Join(homedir.HomeDir(), ".kube", "config"),
		"Path to the kubeconfig file")
	rootCmd.PersistentFlags().StringVar(&rootCmdFlags.KubeContext, "context", "",
		"Name of the kubeconfig context to use. Defaults to the current context in the kubeconfig file")
	rootCmd.PersistentFlags().StringVarP(&rootCmdFlags.KubeNamespace, "namespace", "n", "",
		"Kubernetes namespace to use. Defaults to the namespace of the context")
	rootCmd.PersistentFlags().StringVar(&rootCmdFlags.LogLevel, "log-level", logrus.InfoLevel.String(),
		"The log level. Allowed values: panic, fatal, error, warn, info, debug, trace")
	rootCmd.PersistentFlags().StringVar(&rootCmdFlags.MetricsAddress, "metrics-address", "0.0.0.0:9090",
		"The address of the metrics and readiness listener")
	rootCmd.PersistentFlags().IntVar(&rootCmdFlags.ReadyGracePeriod, "ready-grace-period", 0,
		"Seconds to keep serving after reporting not ready on shutdown")
	rootCmd.PersistentFlags().StringVar(&rootCmdFlags.RoleMappingPath, "role-mapping-path",
		envOrDefault(envRoleMappingPath, defaultRoleMappingPath),
		"Path to the role mapping file. Can also be specified via "+envRoleMappingPath+" environment variable")
}

var rootCmd = &cobra.Command{
	Use: "awscreds",
	Short: `awscreds hands out temporary AWS credentials to Kubernetes workloads
based on their service account.`,
	SilenceUsage: true,
	PersistentPreRunE: func(*cobra.Command, []string) error {
		level, err := logrus.ParseLevel(rootCmdFlags.LogLevel)
		if err != nil {
			return fmt.Errorf("invalid log level: %w", err)
		}
		if rootCmdFlags.ReadyGracePeriod < 0 {
			return fmt.Errorf("invalid ready grace period: %d", rootCmdFlags.ReadyGracePeriod)
		}
		rootCmdFlags.logger = server.NewLogger(level)

		l := server.NewLogr(rootCmdFlags.logger)
		ctrllog.SetLogger(l)
		klog.SetLogger(l)

		return nil
	},
}

func runOptions() server.RunOptions {
	return server.RunOptions{
		MetricsAddress:   rootCmdFlags.MetricsAddress,
		ReadyGracePeriod: time.Duration(rootCmdFlags.ReadyGracePeriod) * time.Second,
		Logger:           rootCmdFlags.logger,
	}
}

func envOrDefault(name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return def
}

func loadKubeConfig() (*rest.Config, error) {
	// Try in-cluster config first.
	conf, err := rest.InClusterConfig()
	if err == nil {
		const inCluster = "InCluster"
		rootCmdFlags.KubeConfig = inCluster
		rootCmdFlags.KubeContext = inCluster

		// Read the namespace.
		if rootCmdFlags.KubeNamespace == "" {
			b, err := os.ReadFile("/var/run/secrets/kubernetes.io/serviceaccount/namespace")
			if err != nil {
				return nil, fmt.Errorf("failed to read namespace from service account: %w", err)
			}
			rootCmdFlags.KubeNamespace = strings.TrimSpace(string(b))
		}

		// Read the service account name.
		b, err := os.ReadFile(awscreds.ServiceAccountTokenPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read service account token: %w", err)
		}
		var claims jwt.MapClaims
		if _, _, err := jwt.NewParser().ParseUnverified(string(b), &claims); err != nil {
			return nil, fmt.Errorf("failed to parse service account token: %w", err)
		}
		sub, err := claims.GetSubject()
		if err != nil {
			return nil, fmt.Errorf("failed to get subject from service account token: %w", err)
		}
		parts := strings.Split(sub, ":")
		rootCmdFlags.KubeServiceAccount = parts[len(parts)-1]

		return conf, nil
	}
	if !errors.Is(err, rest.ErrNotInCluster) {
		return nil, err
	}

	// Fallback to kubeconfig.
	if rootCmdFlags.KubeContext == "" {
		b, err := os.ReadFile(rootCmdFlags.KubeConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to read kubeconfig: %w", err)
		}
		conf, err := clientcmd.Load(b)
		if err != nil {
			return nil, fmt.Errorf("failed to parse kubeconfig: %w", err)
		}
		rootCmdFlags.KubeContext = conf.CurrentContext
	}
	loader := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(
		&clientcmd.ClientConfigLoadingRules{ExplicitPath: rootCmdFlags.KubeConfig},
		&clientcmd.ConfigOverrides{CurrentContext: rootCmdFlags.KubeContext},
	)
	conf, err = loader.ClientConfig()
	if err != nil {
		return nil, err
	}
	if rootCmdFlags.KubeNamespace == "" {
		rootCmdFlags.KubeNamespace, _, err = loader.Namespace()
		if err != nil {
			return nil, fmt.Errorf("failed to get namespace from kubeconfig: %w", err)
		}
	}
	rootCmdFlags.KubeServiceAccount = "default"
	return conf, nil
}

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
	"fmt"
	"net"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/kubernetes-awscreds/awscreds"
	"github.com/kubernetes-awscreds/awscreds/cmd/server"
)

const (
	tlsCertFile = "/etc/awscreds/tls/tls.crt"
	tlsKeyFile  = "/etc/awscreds/tls/tls.key"
)

var webhookCmdFlags struct {
	serverAddress string
	tlsCertFile   string
	tlsKeyFile    string
	agentAddress  string
	awsRegion     string
}

func init() {
	rootCmd.AddCommand(webhookCmd)

	webhookCmd.Flags().StringVar(&webhookCmdFlags.serverAddress, "server-address", "0.0.0.0:8443",
		"The address of the admission endpoint")
	webhookCmd.Flags().StringVar(&webhookCmdFlags.tlsCertFile, "tls-cert", tlsCertFile,
		"Path to the TLS certificate file")
	webhookCmd.Flags().StringVar(&webhookCmdFlags.tlsKeyFile, "tls-key", tlsKeyFile,
		"Path to the TLS private key file")
	webhookCmd.Flags().StringVar(&webhookCmdFlags.agentAddress, "agent-address",
		net.JoinHostPort(awscreds.AgentLinkAddress, defaultAgentPort),
		"The address of the agent injected into pods")
	webhookCmd.Flags().StringVar(&webhookCmdFlags.awsRegion, "aws-region", envOrDefault(awscreds.EnvRegion, ""),
		"The AWS region injected into pods. Can also be specified via "+awscreds.EnvRegion+" environment variable")
}

var webhookCmd = &cobra.Command{
	Use:   "webhook",
	Short: "Serve the pod admission webhook pointing mapped pods at the agent",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		logger := rootCmdFlags.logger

		if _, _, err := net.SplitHostPort(webhookCmdFlags.agentAddress); err != nil {
			return fmt.Errorf("invalid agent address: %w", err)
		}
		if webhookCmdFlags.awsRegion == "" {
			logger.Warn("no AWS region configured, pods will not get a region injected")
		}

		opts := runOptions()
		opts.Metrics = server.NewMetrics(prometheus.NewRegistry())

		mappings, err := awscreds.NewMappingStore(rootCmdFlags.RoleMappingPath,
			awscreds.WithReloadHook(opts.Metrics.ObserveReload(server.ReloadSourceMappings)))
		if err != nil {
			return err
		}
		logger.WithFields(logrus.Fields{
			"path":     mappings.Path(),
			"mappings": mappings.Snapshot().Len(),
		}).Info("role mappings loaded")

		tlsStore, err := server.NewTLSStore(webhookCmdFlags.tlsCertFile, webhookCmdFlags.tlsKeyFile,
			server.WithTLSReloadHook(opts.Metrics.ObserveReload(server.ReloadSourceTLS)))
		if err != nil {
			return err
		}

		return server.RunWebhook(ctx, server.WebhookOptions{
			RunOptions:    opts,
			ServerAddress: webhookCmdFlags.serverAddress,
			Mappings:      mappings,
			TLS:           tlsStore,
			AgentAddress:  webhookCmdFlags.agentAddress,
			Region:        webhookCmdFlags.awsRegion,
		})
	},
}

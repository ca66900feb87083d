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
	"k8s.io/client-go/kubernetes"

	"github.com/kubernetes-awscreds/awscreds"
	"github.com/kubernetes-awscreds/awscreds/cmd/server"
	"github.com/kubernetes-awscreds/awscreds/providers/aws"
)

var agentCmdFlags struct {
	serverAddress               string
	stsRegion                   string
	stsEndpoint                 string
	disableSTSRegionalEndpoints bool
	maxCachedRoles              int
	setupLink                   bool
	audiences                   []string
}

func init() {
	rootCmd.AddCommand(agentCmd)

	agentCmd.Flags().StringVar(&agentCmdFlags.serverAddress, "server-address",
		net.JoinHostPort("0.0.0.0", defaultAgentPort),
		"The address of the credentials endpoint")
	agentCmd.Flags().StringVarP(&agentCmdFlags.stsRegion, "sts-region", "r", "",
		"The region of the STS endpoint. Defaults to the region of the AWS configuration")
	agentCmd.Flags().StringVarP(&agentCmdFlags.stsEndpoint, "sts-endpoint", "e", "",
		"The endpoint to use for STS")
	agentCmd.Flags().BoolVar(&agentCmdFlags.disableSTSRegionalEndpoints, "disable-sts-regional-endpoints", false,
		"Disable STS regional endpoints")
	agentCmd.Flags().IntVar(&agentCmdFlags.maxCachedRoles, "max-cached-roles", 0,
		"Maximum number of roles to keep credentials for. Zero keeps credentials for every role")
	agentCmd.Flags().BoolVar(&agentCmdFlags.setupLink, "setup-link", false,
		fmt.Sprintf("Ensure the %s link carrying %s exists and is up before serving",
			awscreds.AgentLinkName, awscreds.AgentLinkAddress))
	agentCmd.Flags().StringSliceVar(&agentCmdFlags.audiences, "audiences", nil,
		"Audiences service account tokens must be valid for. Defaults to the API server audiences")
}

const defaultAgentPort = "8080"

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Serve temporary AWS credentials to the workloads of the node",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		logger := rootCmdFlags.logger

		if agentCmdFlags.setupLink {
			if err := setupLink(awscreds.AgentLinkName, awscreds.AgentLinkAddress); err != nil {
				return fmt.Errorf("failed to set up link: %w", err)
			}
			logger.WithFields(logrus.Fields{
				"link":    awscreds.AgentLinkName,
				"address": awscreds.AgentLinkAddress,
			}).Info("link ready")
		}

		var providerOpts []aws.Option
		if r := agentCmdFlags.stsRegion; r != "" {
			providerOpts = append(providerOpts, aws.WithSTSRegion(r))
		}
		if e := agentCmdFlags.stsEndpoint; e != "" {
			providerOpts = append(providerOpts, aws.WithSTSEndpoint(e))
		}
		if agentCmdFlags.disableSTSRegionalEndpoints {
			providerOpts = append(providerOpts, aws.WithDisableSTSRegionalEndpoints())
		}
		provider, err := aws.NewProvider(ctx, providerOpts...)
		if err != nil {
			return err
		}
		if arn, err := provider.CallerIdentity(ctx); err != nil {
			logger.WithError(err).Warn("failed to get AWS caller identity")
		} else {
			logger.WithFields(logrus.Fields{
				"arn":    arn,
				"region": provider.Region(),
			}).Info("running as AWS identity")
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

		conf, err := loadKubeConfig()
		if err != nil {
			return fmt.Errorf("failed to load kubeconfig: %w", err)
		}
		clientset, err := kubernetes.NewForConfig(conf)
		if err != nil {
			return fmt.Errorf("failed to create kubernetes client: %w", err)
		}

		cache := awscreds.NewCache(provider, awscreds.WithMaxEntries(agentCmdFlags.maxCachedRoles))
		opts.Metrics.WatchCacheSize(cache)

		broker := awscreds.NewBroker(
			awscreds.NewVerifier(clientset, awscreds.WithAudiences(agentCmdFlags.audiences...)),
			mappings,
			cache,
			awscreds.WithCacheObserverFactory(opts.Metrics.CacheObserverFactory(logger)))

		return server.RunAgent(ctx, server.AgentOptions{
			RunOptions:    opts,
			ServerAddress: agentCmdFlags.serverAddress,
			Credentials:   broker,
			Mappings:      mappings,
		})
	},
}

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

package aws

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/kubernetes-awscreds/awscreds"
)

// ProviderName is the name of the provider.
const ProviderName = "aws"

// Provider issues temporary credentials by assuming roles with the
// Security Token Service.
type Provider struct {
	client STSClient
	region string
}

var _ awscreds.Issuer = (*Provider)(nil)

// NewProvider loads the AWS configuration of the process and creates an
// STS client from it.
func NewProvider(ctx context.Context, opts ...Option) (*Provider, error) {
	o := options{impl: impl{}}
	for _, opt := range opts {
		opt(&o)
	}

	var awsOpts []func(*config.LoadOptions) error

	if r := o.stsRegion; r != "" {
		awsOpts = append(awsOpts, config.WithRegion(r))
	}

	if hc := o.httpClient; hc != nil {
		awsOpts = append(awsOpts, config.WithHTTPClient(hc))
	}

	if c := o.credentials; c != nil {
		awsOpts = append(awsOpts, config.WithCredentialsProvider(CredentialsProvider(c)))
	}

	conf, err := o.impl.LoadDefaultConfig(ctx, awsOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	if conf.Region == "" {
		if !o.disableSTSRegionalEndpoints {
			return nil, fmt.Errorf("no AWS region for the STS service was specified " +
				"and none could be found in the environment")
		}
		conf.Region = globalSTSRegion
	}

	var stsOpts []func(*sts.Options)
	if e := o.getSTSEndpoint(); e != "" {
		stsOpts = append(stsOpts, func(so *sts.Options) {
			so.BaseEndpoint = aws.String(e)
		})
	}

	return &Provider{
		client: o.impl.NewSTSClient(conf, stsOpts...),
		region: conf.Region,
	}, nil
}

// GetName returns the name of the provider.
func (*Provider) GetName() string {
	return ProviderName
}

// Region returns the STS region the provider talks to.
func (p *Provider) Region() string {
	return p.region
}

// Issue implements awscreds.Issuer.
func (p *Provider) Issue(ctx context.Context, roleARN, sessionName string,
	duration time.Duration) (*awscreds.TemporaryCredential, error) {

	if err := validateRoleARN(roleARN); err != nil {
		return nil, err
	}
	if err := validateRoleSessionName(sessionName); err != nil {
		return nil, err
	}

	input := &sts.AssumeRoleInput{
		RoleArn:         &roleARN,
		RoleSessionName: &sessionName,
		DurationSeconds: durationSeconds(duration),
	}
	resp, err := p.client.AssumeRole(ctx, input)
	if err != nil {
		return nil, describeError(err)
	}
	if resp.Credentials == nil {
		return nil, fmt.Errorf("credentials are nil")
	}

	return newTemporaryCredential(resp.Credentials), nil
}

// CallerIdentity returns the ARN of the identity the provider calls STS as.
func (p *Provider) CallerIdentity(ctx context.Context) (string, error) {
	resp, err := p.client.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return "", describeError(err)
	}
	return aws.ToString(resp.Arn), nil
}

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
	"fmt"
	"net/http"
	"regexp"

	"github.com/kubernetes-awscreds/awscreds"
)

// globalSTSEndpoint is the endpoint used when regional endpoints are disabled.
const globalSTSEndpoint = "https://sts.amazonaws.com"

// globalSTSRegion is the signing region of the global endpoint.
const globalSTSRegion = "us-east-1"

type options struct {
	stsRegion                   string
	stsEndpoint                 string
	disableSTSRegionalEndpoints bool
	httpClient                  *http.Client
	credentials                 *awscreds.TemporaryCredential
	impl                        implProvider
}

// Option is a functional option for creating a Provider.
type Option func(*options)

// WithSTSRegion sets the Security Token Service region.
func WithSTSRegion(stsRegion string) Option {
	return func(o *options) {
		o.stsRegion = stsRegion
	}
}

// WithSTSEndpoint sets the Security Token Service endpoint.
func WithSTSEndpoint(stsEndpoint string) Option {
	return func(o *options) {
		o.stsEndpoint = stsEndpoint
	}
}

// WithDisableSTSRegionalEndpoints disables the use of regional STS endpoints.
func WithDisableSTSRegionalEndpoints() Option {
	return func(o *options) {
		o.disableSTSRegionalEndpoints = true
	}
}

// WithHTTPClient sets the HTTP client for talking to STS.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *options) {
		o.httpClient = hc
	}
}

// WithCredentials makes the provider call STS with the given credentials
// instead of the default credential chain.
func WithCredentials(cred *awscreds.TemporaryCredential) Option {
	return func(o *options) {
		o.credentials = cred
	}
}

// WithImplementation sets the implementation for the provider. For tests.
func WithImplementation(impl implProvider) Option {
	return func(o *options) {
		o.impl = impl
	}
}

const roleARNPattern = `^arn:aws[a-z-]*:iam::[0-9]{12}:role/.{1,200}$`

var roleARNRegex = regexp.MustCompile(roleARNPattern)

func validateRoleARN(arn string) error {
	if !roleARNRegex.MatchString(arn) {
		return fmt.Errorf("invalid AWS role ARN: '%s'. must match %s",
			arn, roleARNPattern)
	}
	return nil
}

const roleSessionNamePattern = `^[A-Za-z0-9_=,.@-]{2,64}$`

var roleSessionNameRegex = regexp.MustCompile(roleSessionNamePattern)

func validateRoleSessionName(name string) error {
	if !roleSessionNameRegex.MatchString(name) {
		return fmt.Errorf("invalid AWS role session name: '%s'. must match %s",
			name, roleSessionNamePattern)
	}
	return nil
}

func (o *options) getSTSEndpoint() string {
	if e := o.stsEndpoint; e != "" {
		return e
	}
	if o.disableSTSRegionalEndpoints {
		return globalSTSEndpoint
	}
	return ""
}

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

package awscreds

const (
	// CredentialsPath is the route the agent serves container credentials on.
	CredentialsPath = "/v1/container-credentials"
	// MutatePodsPath is the route the webhook serves pod admission reviews on.
	MutatePodsPath = "/v1/mutate/pods"

	// AgentLinkAddress is the link-local address the agent listens on
	// inside each node.
	AgentLinkAddress = "169.254.170.23"
	// AgentLinkName is the name of the dummy link carrying AgentLinkAddress.
	AgentLinkName = "dummy0"

	// ServiceAccountTokenPath is where the kubelet mounts the projected
	// service account token inside containers.
	ServiceAccountTokenPath = "/var/run/secrets/kubernetes.io/serviceaccount/token"
)

// Environment variables understood by the AWS SDKs for the container
// credentials provider.
const (
	EnvContainerCredentialsFullURI     = "AWS_CONTAINER_CREDENTIALS_FULL_URI"
	EnvContainerCredentialsRelativeURI = "AWS_CONTAINER_CREDENTIALS_RELATIVE_URI"
	EnvContainerAuthorizationToken     = "AWS_CONTAINER_AUTHORIZATION_TOKEN"
	EnvContainerAuthorizationTokenFile = "AWS_CONTAINER_AUTHORIZATION_TOKEN_FILE"
	EnvDefaultRegion                   = "AWS_DEFAULT_REGION"
	EnvRegion                          = "AWS_REGION"
)

// credentialEnvVars are the container credential variables that, when already
// set on a container, mean the workload manages its own credentials.
var credentialEnvVars = []string{
	EnvContainerCredentialsFullURI,
	EnvContainerCredentialsRelativeURI,
	EnvContainerAuthorizationToken,
	EnvContainerAuthorizationTokenFile,
}

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

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	authnv1 "k8s.io/api/authentication/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
)

// Identity is the Kubernetes service account a workload runs as.
type Identity struct {
	Namespace      string
	ServiceAccount string
}

func (i Identity) String() string {
	return i.Namespace + "/" + i.ServiceAccount
}

const maxSessionNameLength = 64

var invalidSessionNameChars = regexp.MustCompile(`[^A-Za-z0-9_=,.@-]`)

// SessionName returns the STS role session name for the identity,
// i.e. <namespace>-<serviceAccount> restricted to the characters
// STS accepts and truncated to 64 characters.
func (i Identity) SessionName() string {
	name := invalidSessionNameChars.ReplaceAllString(i.Namespace+"-"+i.ServiceAccount, "_")
	if len(name) > maxSessionNameLength {
		name = name[:maxSessionNameLength]
	}
	return name
}

// ParseServiceAccountUsername parses a username of the form
// system:serviceaccount:<namespace>:<name>.
func ParseServiceAccountUsername(username string) (*Identity, error) {
	s := strings.Split(username, ":")
	if len(s) != 4 || s[0] != "system" || s[1] != "serviceaccount" {
		return nil, fmt.Errorf("%w: user is not a service account: '%s'", ErrUnauthenticated, username)
	}
	if s[2] == "" || s[3] == "" {
		return nil, fmt.Errorf("%w: invalid service account: '%s'", ErrUnauthenticated, username)
	}
	return &Identity{
		Namespace:      s[2],
		ServiceAccount: s[3],
	}, nil
}

// Verifier identifies workloads by reviewing their service account tokens
// against the Kubernetes API. Results are never cached.
type Verifier struct {
	client    kubernetes.Interface
	audiences []string
}

// VerifierOption is a function that sets some option on the verifier.
type VerifierOption func(*Verifier)

// WithAudiences sets the audiences the token must be valid for.
// Defaults to the API server audiences.
func WithAudiences(audiences ...string) VerifierOption {
	return func(v *Verifier) {
		v.audiences = audiences
	}
}

// NewVerifier creates a verifier issuing token reviews with the given client.
func NewVerifier(client kubernetes.Interface, opts ...VerifierOption) *Verifier {
	v := &Verifier{client: client}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify reviews token and returns the service account identity it
// authenticates.
func (v *Verifier) Verify(ctx context.Context, token string) (*Identity, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: empty token", ErrUnauthenticated)
	}

	review := &authnv1.TokenReview{
		Spec: authnv1.TokenReviewSpec{
			Token:     token,
			Audiences: v.audiences,
		},
	}
	resp, err := v.client.AuthenticationV1().TokenReviews().Create(ctx, review, metav1.CreateOptions{})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to review token: %w", ErrUnauthenticated, err)
	}

	status := resp.Status
	if status.Error != "" {
		return nil, fmt.Errorf("%w: token review failed: %s", ErrUnauthenticated, status.Error)
	}
	if !status.Authenticated {
		return nil, fmt.Errorf("%w: token is not authenticated", ErrUnauthenticated)
	}
	if status.User.Username == "" {
		return nil, fmt.Errorf("%w: token review returned no username", ErrUnauthenticated)
	}

	return ParseServiceAccountUsername(status.User.Username)
}

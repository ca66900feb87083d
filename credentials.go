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
	"encoding/json"
	"fmt"
	"time"
)

// CredentialsVersion is the version of the container credentials document
// consumed by the AWS SDKs.
const CredentialsVersion = 1

// TemporaryCredential is a set of temporary AWS credentials for an assumed role.
type TemporaryCredential struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	Expiration      time.Time
}

type credentialDocument struct {
	Version         int    `json:"Version"`
	AccessKeyID     string `json:"AccessKeyId"`
	SecretAccessKey string `json:"SecretAccessKey"`
	Token           string `json:"Token"`
	Expiration      string `json:"Expiration"`
}

// GetDuration returns the duration for which the credential is still valid.
func (c *TemporaryCredential) GetDuration() time.Duration {
	return time.Until(c.Expiration)
}

// MarshalJSON encodes the credential in the container credentials format.
func (c TemporaryCredential) MarshalJSON() ([]byte, error) {
	return json.Marshal(credentialDocument{
		Version:         CredentialsVersion,
		AccessKeyID:     c.AccessKeyID,
		SecretAccessKey: c.SecretAccessKey,
		Token:           c.SessionToken,
		Expiration:      c.Expiration.UTC().Format(time.RFC3339),
	})
}

// UnmarshalJSON decodes a credential from the container credentials format.
func (c *TemporaryCredential) UnmarshalJSON(b []byte) error {
	var doc credentialDocument
	if err := json.Unmarshal(b, &doc); err != nil {
		return err
	}
	if doc.Version != CredentialsVersion {
		return fmt.Errorf("unsupported credentials version: %d", doc.Version)
	}
	exp, err := time.Parse(time.RFC3339, doc.Expiration)
	if err != nil {
		return fmt.Errorf("failed to parse credentials expiration: %w", err)
	}
	*c = TemporaryCredential{
		AccessKeyID:     doc.AccessKeyID,
		SecretAccessKey: doc.SecretAccessKey,
		SessionToken:    doc.Token,
		Expiration:      exp,
	}
	return nil
}

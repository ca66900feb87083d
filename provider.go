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
	"time"
)

// Issuer issues temporary credentials for an AWS role. Implementations
// must not cache, Cache takes care of that.
type Issuer interface {
	// Issue assumes roleARN for the given duration, tagging the resulting
	// session with sessionName.
	Issue(ctx context.Context, roleARN, sessionName string,
		duration time.Duration) (*TemporaryCredential, error)
}

// IssuerFunc adapts a function to the Issuer interface.
type IssuerFunc func(ctx context.Context, roleARN, sessionName string,
	duration time.Duration) (*TemporaryCredential, error)

// Issue implements Issuer.
func (f IssuerFunc) Issue(ctx context.Context, roleARN, sessionName string,
	duration time.Duration) (*TemporaryCredential, error) {
	return f(ctx, roleARN, sessionName, duration)
}

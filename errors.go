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

import "errors"

var (
	// ErrUnauthenticated is returned when a token fails review or does not
	// identify a service account.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrRoleNotMapped is returned when a service account has no role mapping.
	ErrRoleNotMapped = errors.New("no role mapped for service account")
	// ErrIssueFailed is returned when the credential issuer fails.
	ErrIssueFailed = errors.New("failed to issue credentials")
	// ErrMappingsInvalid is returned when a role mapping source cannot be
	// read or parsed.
	ErrMappingsInvalid = errors.New("invalid role mappings")
)

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
	"errors"
	"fmt"
	"strings"

	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/smithy-go"
)

// Error describes a failed call to an AWS API.
type Error struct {
	ServiceID     string
	OperationName string
	StatusCode    int
	RequestID     string
	Code          string
	Message       string

	err error
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s failed", e.ServiceID, e.OperationName)
	if e.Code != "" {
		fmt.Fprintf(&b, ": %s: %s", e.Code, e.Message)
	} else if e.Message != "" {
		fmt.Fprintf(&b, ": %s", e.Message)
	}
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status code: %d, request id: %s)", e.StatusCode, e.RequestID)
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.err
}

// describeError summarizes SDK operation errors into an *Error. Other
// errors are returned as they are.
func describeError(err error) error {
	var opErr *smithy.OperationError
	if !errors.As(err, &opErr) {
		return err
	}

	e := &Error{
		ServiceID:     opErr.ServiceID,
		OperationName: opErr.OperationName,
		Message:       opErr.Err.Error(),
		err:           err,
	}

	var respErr *awshttp.ResponseError
	if errors.As(opErr.Err, &respErr) {
		e.StatusCode = respErr.HTTPStatusCode()
		e.RequestID = respErr.ServiceRequestID()
		e.Message = respErr.Err.Error()
	}

	var apiErr smithy.APIError
	if errors.As(opErr.Err, &apiErr) {
		e.Code = apiErr.ErrorCode()
		e.Message = apiErr.ErrorMessage()
	}

	return e
}

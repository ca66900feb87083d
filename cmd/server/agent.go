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

package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/kubernetes-awscreds/awscreds"
)

const msgNoAuthorizationToken = "No authorization token passed"

// CredentialsGetter hands out credentials for a service account token.
type CredentialsGetter interface {
	GetCredentials(ctx context.Context, token string) (*awscreds.Grant, error)
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewAgentHandler returns the handler of the credential endpoint.
func NewAgentHandler(getter CredentialsGetter) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET "+awscreds.CredentialsPath, &agentHandler{getter: getter})
	return mux
}

type agentHandler struct {
	getter CredentialsGetter
}

func (a *agentHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := FromContext(ctx)

	token := bearerToken(r.Header.Get("Authorization"))
	if token == "" {
		logger.Info("credentials request without token")
		writeUnauthorized(w, logger, msgNoAuthorizationToken)
		return
	}

	grant, err := a.getter.GetCredentials(ctx, token)
	if err != nil {
		logger.WithError(err).Info("credentials request rejected")
		writeUnauthorized(w, logger, err.Error())
		return
	}

	logger.WithFields(logrus.Fields{
		"serviceAccount": logrus.Fields{
			"name":      grant.Identity.ServiceAccount,
			"namespace": grant.Identity.Namespace,
		},
		"role": grant.RoleARN,
	}).Debug("credentials retrieved")

	writeJSON(w, logger, http.StatusOK, grant.Credentials)
}

func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if strings.EqualFold(header, "Bearer") {
		return ""
	}
	if scheme, token, ok := strings.Cut(header, " "); ok && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(token)
	}
	return header
}

func writeUnauthorized(w http.ResponseWriter, logger logrus.FieldLogger, msg string) {
	writeJSON(w, logger, http.StatusUnauthorized, errorResponse{
		Code:    "401 Unauthorized",
		Message: msg,
	})
}

func writeJSON(w http.ResponseWriter, logger logrus.FieldLogger, code int, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		logger.WithError(err).Error("failed to encode response")
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(b)
}

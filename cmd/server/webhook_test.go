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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	admissionv1 "k8s.io/api/admission/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/webhook/admission"

	"github.com/kubernetes-awscreds/awscreds"
)

const (
	testAgentAddress = "169.254.170.23:8080"
	testRegion       = "eu-west-1"
	testRoleARN      = "arn:aws:iam::123456789012:role/app"
)

type mockLookup map[string]string

func (m mockLookup) Lookup(namespace, serviceAccount string) (string, bool) {
	role, ok := m[namespace+"/"+serviceAccount]
	return role, ok
}

func newTestPod(namespace, serviceAccount string, containers ...corev1.Container) *corev1.Pod {
	if len(containers) == 0 {
		containers = []corev1.Container{{Name: "app", Image: "app"}}
	}
	return &corev1.Pod{
		TypeMeta: metav1.TypeMeta{APIVersion: "v1", Kind: "Pod"},
		ObjectMeta: metav1.ObjectMeta{
			Name:      "app",
			Namespace: namespace,
		},
		Spec: corev1.PodSpec{
			ServiceAccountName: serviceAccount,
			Containers:         containers,
		},
	}
}

func newAdmissionRequest(t *testing.T, namespace string, pod *corev1.Pod) admission.Request {
	t.Helper()
	req := admission.Request{AdmissionRequest: admissionv1.AdmissionRequest{
		UID:       types.UID("uid"),
		Namespace: namespace,
		Operation: admissionv1.Create,
		Kind:      metav1.GroupVersionKind{Version: "v1", Kind: "Pod"},
		Resource:  metav1.GroupVersionResource{Version: "v1", Resource: "pods"},
	}}
	if pod != nil {
		b, err := json.Marshal(pod)
		if err != nil {
			t.Fatalf("failed to encode pod: %v", err)
		}
		req.Object = runtime.RawExtension{Raw: b}
	}
	return req
}

const testEnvPatch = `[{"op":"add","path":"/spec/containers/0/env","value":[
	{"name":"AWS_CONTAINER_CREDENTIALS_FULL_URI","value":"http://169.254.170.23:8080/v1/container-credentials"},
	{"name":"AWS_CONTAINER_AUTHORIZATION_TOKEN_FILE","value":"/var/run/secrets/kubernetes.io/serviceaccount/token"},
	{"name":"AWS_DEFAULT_REGION","value":"eu-west-1"},
	{"name":"AWS_REGION","value":"eu-west-1"}
]}]`

func TestPodMutator_Handle(t *testing.T) {
	mappings := mockLookup{"default/app": testRoleARN}

	for _, tt := range []struct {
		name             string
		reqNamespace     string
		pod              *corev1.Pod
		expectedPatch    string
		expectedDecision string
	}{
		{
			name:             "mapped pod",
			pod:              newTestPod("default", "app"),
			expectedPatch:    testEnvPatch,
			expectedDecision: decisionMutated,
		},
		{
			name:             "namespace from request",
			reqNamespace:     "default",
			pod:              newTestPod("", "app"),
			expectedPatch:    testEnvPatch,
			expectedDecision: decisionMutated,
		},
		{
			name:         "deprecated service account field",
			reqNamespace: "default",
			pod: func() *corev1.Pod {
				p := newTestPod("default", "")
				p.Spec.DeprecatedServiceAccount = "app"
				return p
			}(),
			expectedPatch:    testEnvPatch,
			expectedDecision: decisionMutated,
		},
		{
			name:             "unmapped service account",
			pod:              newTestPod("default", "other"),
			expectedDecision: decisionSkipped,
		},
		{
			name:             "unmapped namespace",
			pod:              newTestPod("kube-system", "app"),
			expectedDecision: decisionSkipped,
		},
		{
			name: "already configured",
			pod: newTestPod("default", "app", corev1.Container{
				Name: "app",
				Env: []corev1.EnvVar{
					{Name: awscreds.EnvContainerCredentialsRelativeURI, Value: "/creds"},
					{Name: awscreds.EnvRegion, Value: "us-east-1"},
				},
			}),
			expectedDecision: decisionSkipped,
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			g := NewWithT(t)

			metrics := NewMetrics(prometheus.NewRegistry())
			m := newPodMutator(mappings, testAgentAddress, testRegion, metrics)

			resp := m.Handle(context.Background(), newAdmissionRequest(t, tt.reqNamespace, tt.pod))

			g.Expect(resp.Allowed).To(BeTrue())
			g.Expect(resp.Patches).To(BeEmpty())
			if tt.expectedPatch == "" {
				g.Expect(resp.Patch).To(BeEmpty())
				g.Expect(resp.PatchType).To(BeNil())
			} else {
				g.Expect(string(resp.Patch)).To(MatchJSON(tt.expectedPatch))
				g.Expect(resp.PatchType).NotTo(BeNil())
				g.Expect(*resp.PatchType).To(Equal(admissionv1.PatchTypeJSONPatch))
			}
			g.Expect(testutil.ToFloat64(metrics.admissionDecisions.WithLabelValues(tt.expectedDecision))).
				To(Equal(1.0))
		})
	}
}

func TestPodMutator_Handle_InvalidPod(t *testing.T) {
	g := NewWithT(t)

	metrics := NewMetrics(prometheus.NewRegistry())
	m := newPodMutator(mockLookup{}, testAgentAddress, testRegion, metrics)

	resp := m.Handle(context.Background(), newAdmissionRequest(t, "default", nil))

	g.Expect(resp.Allowed).To(BeFalse())
	g.Expect(resp.Result).NotTo(BeNil())
	g.Expect(resp.Result.Code).To(Equal(int32(http.StatusBadRequest)))
	g.Expect(resp.Result.Reason).To(Equal(metav1.StatusReasonInvalid))
	g.Expect(resp.Patch).To(BeEmpty())
	g.Expect(testutil.ToFloat64(metrics.admissionDecisions.WithLabelValues(decisionInvalid))).To(Equal(1.0))
}

func TestPodMutator_Handle_EncodeFailure(t *testing.T) {
	g := NewWithT(t)

	metrics := NewMetrics(prometheus.NewRegistry())
	m := newPodMutator(mockLookup{"default/app": testRoleARN}, testAgentAddress, testRegion, metrics)
	m.encodePatch = func(any) ([]byte, error) {
		return nil, errors.New("boom")
	}

	resp := m.Handle(context.Background(), newAdmissionRequest(t, "default", newTestPod("default", "app")))

	g.Expect(resp.Allowed).To(BeTrue())
	g.Expect(resp.Patch).To(BeEmpty())
	g.Expect(resp.PatchType).To(BeNil())
	g.Expect(testutil.ToFloat64(metrics.admissionDecisions.WithLabelValues(decisionFailedOpen))).To(Equal(1.0))
}

func TestWebhookHandler(t *testing.T) {
	g := NewWithT(t)

	handler := NewWebhookHandler(mockLookup{"default/app": testRoleARN}, testAgentAddress, testRegion, nil)

	req := newAdmissionRequest(t, "default", newTestPod("default", "app"))
	review := admissionv1.AdmissionReview{
		TypeMeta: metav1.TypeMeta{APIVersion: "admission.k8s.io/v1", Kind: "AdmissionReview"},
		Request:  &req.AdmissionRequest,
	}
	body, err := json.Marshal(review)
	g.Expect(err).NotTo(HaveOccurred())

	httpReq := httptest.NewRequest(http.MethodPost, awscreds.MutatePodsPath, bytes.NewReader(body))
	httpReq.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httpReq)

	g.Expect(rec.Code).To(Equal(http.StatusOK))

	var out admissionv1.AdmissionReview
	g.Expect(json.Unmarshal(rec.Body.Bytes(), &out)).To(Succeed())
	g.Expect(out.Response).NotTo(BeNil())
	g.Expect(out.Response.UID).To(Equal(types.UID("uid")))
	g.Expect(out.Response.Allowed).To(BeTrue())
	g.Expect(string(out.Response.Patch)).To(MatchJSON(testEnvPatch))
	g.Expect(out.Response.PatchType).NotTo(BeNil())
	g.Expect(*out.Response.PatchType).To(Equal(admissionv1.PatchTypeJSONPatch))

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, awscreds.MutatePodsPath, nil))
	g.Expect(rec.Code).To(Equal(http.StatusMethodNotAllowed))
}

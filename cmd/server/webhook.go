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

	"github.com/sirupsen/logrus"
	admissionv1 "k8s.io/api/admission/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	"sigs.k8s.io/controller-runtime/pkg/webhook/admission"

	"github.com/kubernetes-awscreds/awscreds"
)

// NewWebhookHandler returns the handler of the pod admission endpoint.
// Pods whose service account is mapped to a role are patched to fetch
// credentials from the agent at agentAddress.
func NewWebhookHandler(mappings awscreds.RoleLookup, agentAddress, region string, metrics *Metrics) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("POST "+awscreds.MutatePodsPath, &admission.Webhook{
		Handler: newPodMutator(mappings, agentAddress, region, metrics),
	})
	return mux
}

type podMutator struct {
	mappings     awscreds.RoleLookup
	decoder      *admission.Decoder
	agentAddress string
	region       string
	metrics      *Metrics
	encodePatch  func(v any) ([]byte, error)
}

func newPodMutator(mappings awscreds.RoleLookup, agentAddress, region string, metrics *Metrics) *podMutator {
	return &podMutator{
		mappings:     mappings,
		decoder:      admission.NewDecoder(clientgoscheme.Scheme),
		agentAddress: agentAddress,
		region:       region,
		metrics:      metrics,
		encodePatch:  json.Marshal,
	}
}

func (p *podMutator) Handle(ctx context.Context, req admission.Request) admission.Response {
	logger := FromContext(ctx).WithField("uid", req.UID)

	var pod corev1.Pod
	if err := p.decoder.Decode(req, &pod); err != nil {
		logger.WithError(err).Info("failed to decode pod")
		p.count(decisionInvalid)
		return admission.Response{
			AdmissionResponse: admissionv1.AdmissionResponse{
				Allowed: false,
				Result: &metav1.Status{
					Code:    http.StatusBadRequest,
					Reason:  metav1.StatusReasonInvalid,
					Message: err.Error(),
				},
			},
		}
	}

	namespace := pod.Namespace
	if namespace == "" {
		namespace = req.Namespace
	}
	serviceAccount := pod.Spec.ServiceAccountName
	if serviceAccount == "" {
		serviceAccount = pod.Spec.DeprecatedServiceAccount
	}
	logger = logger.WithField("serviceAccount", logrus.Fields{
		"name":      serviceAccount,
		"namespace": namespace,
	})

	roleARN, ok := p.mappings.Lookup(namespace, serviceAccount)
	if !ok {
		logger.Debug("no role mapped, skipping pod")
		p.count(decisionSkipped)
		return admission.Allowed("")
	}
	logger = logger.WithField("role", roleARN)

	ops := awscreds.CreatePodPatch(&pod, p.agentAddress, p.region)
	if len(ops) == 0 {
		logger.Debug("pod already configured")
		p.count(decisionSkipped)
		return admission.Allowed("")
	}

	b, err := p.encodePatch(ops)
	if err != nil {
		logger.WithError(err).Error("failed to encode patch, admitting pod unchanged")
		p.count(decisionFailedOpen)
		return admission.Allowed("")
	}

	logger.WithField("operations", len(ops)).Info("pod mutated")
	p.count(decisionMutated)
	patchType := admissionv1.PatchTypeJSONPatch
	resp := admission.Allowed("")
	resp.Patch = b
	resp.PatchType = &patchType
	return resp
}

func (p *podMutator) count(decision string) {
	if p.metrics == nil {
		return
	}
	p.metrics.admissionDecisions.WithLabelValues(decision).Inc()
}

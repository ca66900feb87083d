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
	"fmt"
	"slices"

	"gomodules.xyz/jsonpatch/v2"
	corev1 "k8s.io/api/core/v1"
)

// CredentialsURL returns the URL of the credentials endpoint of an agent
// listening on agentAddress.
func CredentialsURL(agentAddress string) string {
	return "http://" + agentAddress + CredentialsPath
}

// CreatePodPatch returns the JSON patch pointing every container of pod at
// the agent on agentAddress. Variable groups a container already sets are
// left alone, so patching an already patched pod yields no operations.
// The region pair is skipped when region is empty.
func CreatePodPatch(pod *corev1.Pod, agentAddress, region string) []jsonpatch.JsonPatchOperation {
	credentialVars := []corev1.EnvVar{
		{Name: EnvContainerCredentialsFullURI, Value: CredentialsURL(agentAddress)},
		{Name: EnvContainerAuthorizationTokenFile, Value: ServiceAccountTokenPath},
	}
	var regionVars []corev1.EnvVar
	if region != "" {
		regionVars = []corev1.EnvVar{
			{Name: EnvDefaultRegion, Value: region},
			{Name: EnvRegion, Value: region},
		}
	}

	var patch []jsonpatch.JsonPatchOperation
	for i, c := range pod.Spec.Containers {
		if len(c.Env) == 0 {
			env := append(slices.Clone(credentialVars), regionVars...)
			patch = append(patch, jsonpatch.NewOperation("add",
				fmt.Sprintf("/spec/containers/%d/env", i), env))
			continue
		}

		var env []corev1.EnvVar
		if !hasAnyEnv(c.Env, credentialEnvVars...) {
			env = append(env, credentialVars...)
		}
		if !hasAnyEnv(c.Env, EnvDefaultRegion, EnvRegion) {
			env = append(env, regionVars...)
		}
		for _, e := range env {
			patch = append(patch, jsonpatch.NewOperation("add",
				fmt.Sprintf("/spec/containers/%d/env/-", i), e))
		}
	}
	return patch
}

func hasAnyEnv(env []corev1.EnvVar, names ...string) bool {
	for _, e := range env {
		if slices.Contains(names, e.Name) {
			return true
		}
	}
	return false
}

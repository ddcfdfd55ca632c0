/*
Copyright 2025 The Wave Engine Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package engine

import (
	"time"

	"k8s.io/apimachinery/pkg/api/meta"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	v1alpha1 "github.com/gitops-incubation/wave-engine/api/v1alpha1"
	"github.com/gitops-incubation/wave-engine/internal/graph"
	"github.com/gitops-incubation/wave-engine/internal/scheduler"
)

// buildStatuses derives per-resource conditions from the finished pass.
// Blocked resources never reach admission, so Blocked is their only
// condition.
func buildStatuses(result *graph.Result, report *PassReport, now time.Time) map[v1alpha1.ResourceRef]v1alpha1.ResourceStatus {
	statuses := make(map[v1alpha1.ResourceRef]v1alpha1.ResourceStatus)
	ts := metav1.NewTime(now)

	set := func(ref v1alpha1.ResourceRef, condType string, ok bool, reason, msg string) {
		status := statuses[ref]
		if res, tracked := result.Resource(ref); tracked {
			status.ObservedGeneration = res.Generation
		}
		condStatus := metav1.ConditionFalse
		if ok {
			condStatus = metav1.ConditionTrue
		}
		meta.SetStatusCondition(&status.Conditions, metav1.Condition{
			Type:               condType,
			Status:             condStatus,
			Reason:             reason,
			Message:            msg,
			LastTransitionTime: ts,
		})
		statuses[ref] = status
	}

	for ref, reason := range report.Blocked {
		set(ref, v1alpha1.ConditionBlocked, true, "UnschedulableReference", reason)
	}

	violated := make(map[v1alpha1.ResourceRef]string)
	for _, v := range report.Violations {
		violated[v.Resource] = v.Message
	}

	for _, wave := range report.Waves {
		for _, ref := range wave.Resources {
			switch wave.State {
			case scheduler.StateHealthy:
				set(ref, v1alpha1.ConditionAdmitted, true, "PolicyPassed", "")
				set(ref, v1alpha1.ConditionApplied, true, "WriteAccepted", "")
				set(ref, v1alpha1.ConditionHealthy, true, "HealthReported", "")
			case scheduler.StateTimedOut:
				set(ref, v1alpha1.ConditionAdmitted, true, "PolicyPassed", "")
				set(ref, v1alpha1.ConditionApplied, true, "WriteAccepted", "")
				set(ref, v1alpha1.ConditionHealthy, false, "DeadlineExceeded", wave.Reason)
			case scheduler.StateFailed:
				if msg, ok := violated[ref]; ok {
					set(ref, v1alpha1.ConditionAdmitted, false, "PolicyViolation", msg)
				} else {
					set(ref, v1alpha1.ConditionAdmitted, true, "PolicyPassed", "")
					set(ref, v1alpha1.ConditionApplied, false, "WaveFailed", wave.Reason)
				}
			case scheduler.StatePending:
				set(ref, v1alpha1.ConditionApplied, false, "NotScheduled", wave.Reason)
			}
		}
	}
	return statuses
}

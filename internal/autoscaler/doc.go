// Package autoscaler computes desired replica counts for scalable workloads
// from utilization samples.
//
// Each evaluation tick derives a raw desired count per metric as
// ceil(current * value / target) and takes the maximum across metrics, so
// scaling up is driven by the most saturated resource. The result is clamped
// to the target's replica bounds and then passed through direction-specific
// hysteresis:
//
//   - Scale-up consults the scale-up policy for the maximum step this tick
//     and applies no stabilization delay unless the policy sets a window.
//   - Scale-down only commits when the lowest raw desired value observed
//     over the trailing stabilization window is still below the current
//     count, and then moves to the highest recommendation in that window.
//
// The asymmetry is deliberate: a missed scale-down costs a little spare
// capacity, a wrong scale-down under load drops requests.
//
// Metrics reporting no data for longer than the grace period are excluded
// from the max computation rather than treated as zero.
package autoscaler

// Package decom decommissions EC2 instances: it finds instances matching a
// filter, clears their protection flags with the operator's consent, creates
// an image of each one and then terminates only the instances whose image was
// created.
//
// Everything runs sequentially, one instance at a time. Listing errors stop a
// run, but backup and termination failures are recorded per instance and the
// batch carries on. An instance is never terminated without a successful
// backup in the same run; the Terminator enforces this itself.
package decom

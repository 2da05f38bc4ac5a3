// Package request implements the point-request workflow: members submit
// requests for points, admins approve or reject them. Approval credits the
// member's point total and flips the request status in one atomic step.
package request

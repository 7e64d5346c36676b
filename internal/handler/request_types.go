package handler

import "prospector/internal/domain"

// Request bodies, named so swag can describe them.

// SubmitRequest is the body of POST /extractions.
type SubmitRequest struct {
	DocumentID    string `json:"document_id" binding:"required" example:"D1"`
	FileReference string `json:"file_reference" binding:"required" example:"s3://docs/d1.pdf"`
}

// ResubmitRequest is the optional body of POST /extractions/{document_id}/resubmit.
type ResubmitRequest struct {
	Policy domain.ResubmitPolicy `json:"policy" example:"reuse_text"`
}

// ApproveRequest is the body of POST /extractions/{document_id}/approve.
type ApproveRequest struct {
	Reviewer string `json:"reviewer" binding:"required" example:"reviewer@example.com"`
}

// RejectRequest is the body of POST /extractions/{document_id}/reject.
type RejectRequest struct {
	Reviewer string `json:"reviewer" binding:"required" example:"reviewer@example.com"`
	Reason   string `json:"reason" example:"wrong parcel"`
}

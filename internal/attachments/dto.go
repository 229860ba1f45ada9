package attachments

// SignedAttachmentResponse is returned by the upload and signedUrls routes.
type SignedAttachmentResponse struct {
	AttachmentID string `json:"attachmentId"`
	Title        string `json:"title"`
	SignedURL    string `json:"signedUrl"`
	Error        string `json:"error,omitempty"`
}

type removeResponse struct {
	AttachmentID string `json:"attachmentId"`
	Deleted      bool   `json:"deleted"`
}

func signedResponse(id, title, url string, err error) SignedAttachmentResponse {
	resp := SignedAttachmentResponse{AttachmentID: id, Title: title, SignedURL: url}
	if err != nil {
		resp.SignedURL = ""
		resp.Error = "signed url unavailable"
	}
	return resp
}

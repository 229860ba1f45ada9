package attachments

import (
	"docvault-backend/internal/documents"
	"docvault-backend/internal/shared/auth"
)

// CanRemove reports whether who may delete a.
func CanRemove(who auth.Identity, a documents.Attachment) bool {
	if who.IsAdmin() {
		return true
	}
	return who.UserID != "" && who.UserID == a.OwnerUserID
}

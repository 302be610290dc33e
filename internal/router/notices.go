package router

// User-facing texts.
const (
	noticeWelcome        = "Welcome! Open a shared link to receive its file."
	noticeFailure        = "Something went wrong. Please try again later."
	noticeFileNotFound   = "Sorry, that file could not be found."
	noticeUploadUsage    = "Send me a document, photo or video to share it."
	noticeUploadRejected = "This file can't be shared."
	noticeUploaded       = "File uploaded successfully. Share this link:\n"
	noticeNoFiles        = "You haven't uploaded any files yet."
	noticeFileList       = "Here are all your uploaded files:"
	noticeBroadcastUsage = "Usage: /broadcast <message>"
	noticeBroadcastDone  = "Message broadcasted successfully."

	denyUpload    = "You are not authorized to upload files."
	denyBatch     = "You are not authorized to view batch files."
	denyBroadcast = "You are not authorized to broadcast messages."
)

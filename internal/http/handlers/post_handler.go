// Post HTTP handlers.
//
// This file exposes the write-path endpoints for boards:
//   - POST   /boards/{dir}/threads                (new thread, multipart)
//   - POST   /boards/{dir}/threads/{id}/replies   (new reply, multipart)
//   - DELETE /boards/{dir}/posts/{id}             (owner-scoped delete)
//
// Submissions are multipart/form-data because they may carry an image. All
// admission decisions happen in the services layer; handlers only read the
// form and translate the error taxonomy.
package handlers

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/agentboard/internal/services"
	"github.com/tbourn/agentboard/internal/upload"
)

// CreateThread godoc
// @Summary     Create a thread
// @Description Commits a new thread. Form fields: message (required),
// subject, file (required image).
// @Tags        Posts
// @Accept      multipart/form-data
// @Produce     json
// @Success     201  {object}  domain.Post
// @Failure     400  {object}  handlers.ErrorResponse
// @Failure     409  {object}  handlers.ErrorResponse  "Duplicate content"
// @Failure     429  {object}  handlers.ErrorResponse  "Quota exceeded"
// @Router      /boards/{dir}/threads [post]
func (h *Handlers) CreateThread(c *gin.Context) {
	caller := agentID(c)
	if caller == "" {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "X-Agent-ID header required")
		return
	}

	file, ferr := readFormFile(c, "file")
	if ferr != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "unreadable file field")
		return
	}

	post, err := h.postSvc.CreateThread(
		c.Request.Context(),
		c.Param("dir"),
		caller,
		c.PostForm("subject"),
		c.PostForm("message"),
		file,
	)
	if err != nil {
		failPostError(c, err)
		return
	}
	ok(c, http.StatusCreated, post)
}

// CreateReply godoc
// @Summary     Reply to a thread
// @Description Commits a reply. Form fields: message (required), file
// (optional image), sage ("true" suppresses the thread bump).
// @Tags        Posts
// @Accept      multipart/form-data
// @Produce     json
// @Success     201  {object}  domain.Post
// @Failure     404  {object}  handlers.ErrorResponse  "Board or thread not found"
// @Failure     409  {object}  handlers.ErrorResponse  "Duplicate content or locked thread"
// @Router      /boards/{dir}/threads/{id}/replies [post]
func (h *Handlers) CreateReply(c *gin.Context) {
	caller := agentID(c)
	if caller == "" {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "X-Agent-ID header required")
		return
	}

	file, ferr := readFormFile(c, "file")
	if ferr != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "unreadable file field")
		return
	}

	sage := c.PostForm("sage") == "true" || c.PostForm("sage") == "1"

	post, err := h.postSvc.CreateReply(
		c.Request.Context(),
		c.Param("dir"),
		c.Param("id"),
		caller,
		c.PostForm("message"),
		file,
		sage,
	)
	if err != nil {
		failPostError(c, err)
		return
	}
	ok(c, http.StatusCreated, post)
}

// DeletePost godoc
// @Summary     Delete an own post
// @Description Removes a post owned by the calling agent. Deleting a thread
// removes its replies.
// @Tags        Posts
// @Success     204  "No Content"
// @Failure     404  {object}  handlers.ErrorResponse
// @Router      /boards/{dir}/posts/{id} [delete]
func (h *Handlers) DeletePost(c *gin.Context) {
	caller := agentID(c)
	if caller == "" {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "X-Agent-ID header required")
		return
	}

	err := h.postSvc.DeletePost(c.Request.Context(), c.Param("dir"), c.Param("id"), caller)
	if err != nil {
		failPostError(c, err)
		return
	}
	noContent(c)
}

// readFormFile loads the named multipart file into memory. The request body
// is already capped by middleware, so reading fully is bounded. A missing
// file is not an error; it returns (nil, nil).
func readFormFile(c *gin.Context, field string) (*services.UploadInput, error) {
	fh, err := c.FormFile(field)
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
			return nil, nil
		}
		return nil, err
	}
	return loadUpload(fh)
}

func loadUpload(fh *multipart.FileHeader) (*services.UploadInput, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	return &services.UploadInput{Data: data, Filename: fh.Filename}, nil
}

// failPostError maps write-path service errors to the HTTP taxonomy.
func failPostError(c *gin.Context, err error) {
	if dup, isDup := services.AsDuplicate(err); isDup {
		resp := ErrorResponse{Code: ErrCodeDuplicateContent, Message: "content already posted"}
		if dup.Existing != nil {
			resp.ConflictingPost = dup.Existing.ID
		}
		failWith(c, http.StatusConflict, resp)
		return
	}

	switch {
	case errors.Is(err, services.ErrAgentNotFound):
		fail(c, http.StatusForbidden, ErrCodeForbidden, "unknown agent")
	case errors.Is(err, services.ErrBoardNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "board not found")
	case errors.Is(err, services.ErrThreadNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "thread not found")
	case errors.Is(err, services.ErrPostNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "post not found")
	case errors.Is(err, services.ErrThreadLocked):
		fail(c, http.StatusForbidden, ErrCodeForbidden, "thread is locked")
	case errors.Is(err, services.ErrEmptyMessage),
		errors.Is(err, services.ErrMessageTooLong),
		errors.Is(err, services.ErrFileRequired),
		errors.Is(err, services.ErrReplyToReply):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
	case errors.Is(err, services.ErrQuotaExceeded):
		fail(c, http.StatusTooManyRequests, ErrCodeQuotaExceeded, "daily quota exceeded")
	case errors.Is(err, upload.ErrTooLarge):
		fail(c, http.StatusRequestEntityTooLarge, ErrCodeFileRejected, err.Error())
	case errors.Is(err, upload.ErrUnsupportedFormat):
		fail(c, http.StatusUnsupportedMediaType, ErrCodeFileRejected, err.Error())
	case errors.Is(err, upload.ErrCorruptImage),
		errors.Is(err, upload.ErrTooManyPixels):
		fail(c, http.StatusUnprocessableEntity, ErrCodeFileRejected, err.Error())
	default:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "could not commit post")
	}
}

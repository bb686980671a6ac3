package event

import (
	"fmt"
	"net/http"
	"path"

	"github.com/JonasLeetTheWay/campus-events/internal/apperr"
	"github.com/JonasLeetTheWay/campus-events/internal/httpx"
	"github.com/JonasLeetTheWay/campus-events/internal/models"
	"github.com/JonasLeetTheWay/campus-events/internal/storage"

	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

const uploadField = "file"

func (s *Service) UploadPoster(c *gin.Context) {
	s.replaceFile(c, "poster_path", storage.DirPosters, storage.ImageExtensions)
}

func (s *Service) UploadInvitation(c *gin.Context) {
	s.replaceFile(c, "invitation_path", storage.DirInvitations, storage.DocumentExtensions)
}

// replaceFile stores the uploaded file, points column at it and removes the
// file it replaces.
func (s *Service) replaceFile(c *gin.Context, column, dir string, allowed []string) {
	event, err := s.managedEvent(c)
	if err != nil {
		httpx.Error(c, err)
		return
	}

	fh, err := c.FormFile(uploadField)
	if err != nil {
		httpx.Error(c, apperr.Validation("multipart field %q is required", uploadField))
		return
	}
	rel, err := s.store.SaveUpload(dir, fh, allowed)
	if err != nil {
		httpx.Error(c, err)
		return
	}

	old := event.PosterPath
	if column == "invitation_path" {
		old = event.InvitationPath
	}

	if err := s.db.WithContext(c.Request.Context()).Model(&models.Event{}).Where("id = ?", event.ID).Update(column, rel).Error; err != nil {
		s.store.Remove(rel)
		httpx.Error(c, errors.Wrapf(err, "update %s", column))
		return
	}
	if old != "" {
		if err := s.store.Remove(old); err != nil {
			s.logger.WithError(err).WithField("path", old).Warn("failed to remove replaced file")
		}
	}

	s.respondWithEvent(c, http.StatusOK, event.ID)
}

// DownloadInvitation serves the uploaded invitation, or renders one from the
// event details when none was uploaded.
func (s *Service) DownloadInvitation(c *gin.Context) {
	event, err := s.visibleEvent(c)
	if err != nil {
		httpx.Error(c, err)
		return
	}

	if event.InvitationPath != "" {
		full, err := s.store.Path(event.InvitationPath)
		if err != nil {
			httpx.Error(c, err)
			return
		}
		c.FileAttachment(full, fmt.Sprintf("invitation-%d%s", event.ID, path.Ext(event.InvitationPath)))
		return
	}

	pdf, err := s.issuer.Invitation(c.Request.Context(), event.ID)
	if err != nil {
		httpx.Error(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="invitation-%d.pdf"`, event.ID))
	c.Data(http.StatusOK, "application/pdf", pdf)
}

func (s *Service) ListGallery(c *gin.Context) {
	event, err := s.visibleEvent(c)
	if err != nil {
		httpx.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, event.Images)
}

func (s *Service) UploadGalleryImage(c *gin.Context) {
	event, err := s.managedEvent(c)
	if err != nil {
		httpx.Error(c, err)
		return
	}

	form, err := c.MultipartForm()
	if err != nil || len(form.File[uploadField]) == 0 {
		httpx.Error(c, apperr.Validation("multipart field %q is required", uploadField))
		return
	}

	var images []models.EventImage
	for _, fh := range form.File[uploadField] {
		rel, err := s.store.SaveUpload(storage.DirGallery, fh, storage.ImageExtensions)
		if err != nil {
			for _, img := range images {
				s.store.Remove(img.ImagePath)
			}
			httpx.Error(c, err)
			return
		}
		images = append(images, models.EventImage{EventID: event.ID, ImagePath: rel})
	}

	if err := s.db.WithContext(c.Request.Context()).Create(&images).Error; err != nil {
		for _, img := range images {
			s.store.Remove(img.ImagePath)
		}
		httpx.Error(c, errors.Wrap(err, "save gallery images"))
		return
	}
	c.JSON(http.StatusCreated, images)
}

func (s *Service) DeleteGalleryImage(c *gin.Context) {
	event, err := s.managedEvent(c)
	if err != nil {
		httpx.Error(c, err)
		return
	}
	imageID, err := httpx.ParamID(c, "imageId")
	if err != nil {
		httpx.Error(c, err)
		return
	}

	var img models.EventImage
	err = s.db.WithContext(c.Request.Context()).Where("id = ? AND event_id = ?", imageID, event.ID).First(&img).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			httpx.Error(c, apperr.NotFound("image %d not found", imageID))
			return
		}
		httpx.Error(c, errors.Wrap(err, "load image"))
		return
	}
	if err := s.db.WithContext(c.Request.Context()).Delete(&img).Error; err != nil {
		httpx.Error(c, errors.Wrap(err, "delete image"))
		return
	}
	if err := s.store.Remove(img.ImagePath); err != nil {
		s.logger.WithError(err).WithField("path", img.ImagePath).Warn("failed to remove gallery file")
	}
	c.Status(http.StatusNoContent)
}

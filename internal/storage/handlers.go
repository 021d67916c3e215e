package storage

import (
	"errors"
	"net/url"

	"github.com/gofiber/fiber/v2"
)

// RegisterRoutes serves processed videos. The route stays public so that
// plain <video> elements can load it.
func RegisterRoutes(r fiber.Router, svc *Service) {
	r.Get("/video/:filename", func(c *fiber.Ctx) error {
		name, err := url.PathUnescape(c.Params("filename"))
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		f, info, err := svc.Open(name)
		switch {
		case errors.Is(err, ErrInvalidName):
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		case errors.Is(err, ErrNotFound):
			return fiber.NewError(fiber.StatusNotFound, err.Error())
		case err != nil:
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}

		c.Set(fiber.HeaderContentType, "video/mp4")
		return c.SendStream(f, int(info.Size()))
	})
}

package workout

import (
	"errors"
	"strconv"

	"backend-pushupcounter/internal/storage"

	"github.com/gofiber/fiber/v2"
)

func RegisterRoutes(r fiber.Router, svc *Service, authMiddleware fiber.Handler) {
	r.Post("/process_video", authMiddleware, func(c *fiber.Ctx) error {
		header, err := c.FormFile("file")
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "No file part")
		}
		if header.Filename == "" {
			return fiber.NewError(fiber.StatusBadRequest, "No selected file")
		}
		file, err := header.Open()
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		defer file.Close()

		session, err := svc.Process(c.Context(), userID(c), header.Filename, file)
		if err != nil {
			if session.ID == "" {
				return fiber.NewError(fiber.StatusInternalServerError, err.Error())
			}
			status := fiber.StatusInternalServerError
			if errors.Is(err, storage.ErrTooLarge) {
				status = fiber.StatusRequestEntityTooLarge
			}
			return c.Status(status).JSON(FailureResponse{
				SessionID: session.ID,
				Counters:  session.Count,
				Partial:   session.Partial,
				Error:     err.Error(),
			})
		}

		return c.JSON(ProcessResponse{
			SessionID: session.ID,
			VideoURL:  session.VideoURL,
			Counters:  session.Count,
		})
	})

	r.Get("/sessions", authMiddleware, func(c *fiber.Ctx) error {
		limit, _ := strconv.Atoi(c.Query("limit"))
		sessions, err := svc.List(c.Context(), userID(c), limit)
		if errors.Is(err, ErrUnavailable) {
			return fiber.NewError(fiber.StatusServiceUnavailable, err.Error())
		}
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.JSON(sessions)
	})

	r.Get("/sessions/:id", authMiddleware, func(c *fiber.Ctx) error {
		session, err := svc.Get(c.Context(), userID(c), c.Params("id"))
		if errors.Is(err, ErrNotFound) {
			return fiber.NewError(fiber.StatusNotFound, err.Error())
		}
		if errors.Is(err, ErrUnavailable) {
			return fiber.NewError(fiber.StatusServiceUnavailable, err.Error())
		}
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.JSON(session)
	})
}

func userID(c *fiber.Ctx) string {
	id, _ := c.Locals("user_id").(string)
	return id
}

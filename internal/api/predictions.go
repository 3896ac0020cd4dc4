package api

import (
	"bytes"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/kinga-app/kinga/internal/classifier"
	"github.com/kinga-app/kinga/internal/errors"
	"github.com/kinga-app/kinga/internal/prediction"
)

const (
	uploadField     = "file"
	errNoFile       = "No file"
	errPredict      = "Prediction failed"
	detailBadImage  = "the uploaded file is not a supported image"
	detailSaveImage = "the uploaded file could not be stored"
)

// Predict stores the uploaded image, classifies it and returns the pest view.
func (c *Controller) Predict(ctx echo.Context) error {
	fh, err := ctx.FormFile(uploadField)
	if err != nil {
		var he *echo.HTTPError
		if errors.As(err, &he) {
			// body limit exceeded while reading the form
			return he
		}
		return c.HandleError(ctx, err, errNoFile, http.StatusBadRequest)
	}

	src, err := fh.Open()
	if err != nil {
		return c.handleError(ctx, err, errPredict, detailSaveImage, http.StatusInternalServerError)
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		return c.handleError(ctx, err, errPredict, detailSaveImage, http.StatusInternalServerError)
	}

	name, err := c.Uploads.Save(fh.Filename, bytes.NewReader(data))
	if err != nil {
		return c.handleError(ctx, err, errPredict, detailSaveImage, http.StatusInternalServerError)
	}

	outcome, err := c.Predictions.Predict(ctx.Request().Context(), name, data)
	if err != nil {
		detail := ""
		if errors.Is(err, classifier.ErrDecode) {
			detail = detailBadImage
		}
		return c.handleError(ctx, err, errPredict, detail, http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusOK, outcome.View)
}

// History lists past identifications, newest first.
func (c *Controller) History(ctx echo.Context) error {
	entries, err := c.Predictions.History(ctx.Request().Context())
	if err != nil {
		return c.HandleError(ctx, err, errInternal, http.StatusInternalServerError)
	}
	if entries == nil {
		entries = []prediction.HistoryEntry{}
	}
	return ctx.JSON(http.StatusOK, entries)
}

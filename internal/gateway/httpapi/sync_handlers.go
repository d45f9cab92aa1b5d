package httpapi

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/jkaninda/okapi"

	"github.com/jkaninda/nafsi/internal/devicesync"
)

func (g *Gateway) registerSyncRoutes() {
	if g.syncMgr == nil {
		return
	}
	g.group.Get("/sync/delta", g.handleSyncExport,
		okapi.DocSummary("Export state revisions committed after a sync cursor"),
		okapi.DocTags("Sync"),
		okapi.DocResponse(devicesync.Delta{}),
		okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
	)
	g.group.Post("/sync/delta", g.handleSyncApply,
		okapi.DocSummary("Apply a delta from another device and report conflicts"),
		okapi.DocTags("Sync"),
		okapi.DocRequestBody(devicesync.Delta{}),
		okapi.DocResponse(devicesync.ConflictReport{}),
		okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
	)
}

func (g *Gateway) handleSyncExport(c *okapi.Context) error {
	sinceSeq := int64(0)
	if raw := c.Request().URL.Query().Get("since_seq"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 0 {
			return c.AbortBadRequest("invalid since_seq")
		}
		sinceSeq = parsed
	}

	delta, err := g.syncMgr.ExportDelta(c.Context(), sinceSeq)
	if err != nil {
		g.logger.Error("sync export failed", slog.String("error", err.Error()))
		return c.AbortInternalServerError("sync export failed")
	}
	return c.OK(delta)
}

func (g *Gateway) handleSyncApply(c *okapi.Context) error {
	var delta devicesync.Delta
	if err := c.Bind(&delta); err != nil {
		return c.AbortBadRequest("invalid delta body")
	}

	g.logger.Info("sync apply",
		slog.String("device_id", delta.DeviceID),
		slog.Int("affective", len(delta.Affective)),
		slog.Int("heritage", len(delta.Heritage)),
	)

	report, err := g.syncMgr.ApplyDelta(c.Context(), &delta)
	if err != nil {
		if errors.Is(err, devicesync.ErrBadDelta) {
			return c.AbortBadRequest("invalid delta")
		}
		g.logger.Error("sync apply failed", slog.String("error", err.Error()))
		return c.AbortInternalServerError("sync apply failed")
	}
	return c.OK(report)
}

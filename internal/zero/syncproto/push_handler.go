// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package syncproto also provides the push HTTP endpoint (spec.md §6, "Push
HTTP endpoint"): it decodes and validates a push request, dispatches its
mutations to the Mutagen processor, and returns a push response or a
transport-level error. Unlike pushed-mutation errors, a [TransportError]
means no mutations ran at all, so it never advances an LMID.
*/
package syncproto

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	requestutil "github.com/zerosync/zero/internal/platform/request"
	"github.com/zerosync/zero/internal/platform/respond"
	"github.com/zerosync/zero/internal/platform/validate"
	"github.com/zerosync/zero/internal/zero/mutagen"
)

// SupportedPushVersion is the only pushVersion this endpoint accepts.
const SupportedPushVersion = 1

// cvrToucher records that a client group is still active, so the purger's
// inactivity threshold doesn't reclaim its CVR row out from under a client
// that is pushing mutations but has no open view query right now.
type cvrToucher interface {
	Touch(ctx context.Context, clientGroupID string) error
}

// PushHandler implements the push HTTP endpoint for one shard.
type PushHandler struct {
	processor *mutagen.Processor
	cvr       cvrToucher
}

// NewPushHandler builds a PushHandler dispatching against processor. cvr may
// be nil, in which case pushes never touch a CVR's last-active timestamp.
func NewPushHandler(processor *mutagen.Processor, cvr cvrToucher) *PushHandler {
	return &PushHandler{processor: processor, cvr: cvr}
}

// ServeHTTP handles POST /push?pushVersion=1&schema=...&appID=....
func (h *PushHandler) ServeHTTP(writer http.ResponseWriter, request *http.Request) {
	versionStr := request.URL.Query().Get("pushVersion")
	version, err := strconv.Atoi(versionStr)
	if err != nil || version != SupportedPushVersion {
		respond.JSON(writer, http.StatusBadRequest, TransportError{Error: "unsupportedPushVersion"})
		return
	}

	var req Push
	if err := requestutil.DecodeJSON(request, &req); err != nil {
		respond.JSON(writer, http.StatusBadRequest, TransportError{Error: "http"})
		return
	}

	v := &validate.Validator{}
	v.Required("clientGroupID", req.ClientGroupID)
	for i, m := range req.Mutations {
		v.Custom("mutations["+strconv.Itoa(i)+"].name", !strings.Contains(m.Name, "|"),
			`mutation name must be "namespace|name"`)
	}
	if err := v.Err(); err != nil {
		respond.Error(writer, request, err)
		return
	}

	muts := make([]mutagen.Mutation, 0, len(req.Mutations))
	ids := make([]int64, 0, len(req.Mutations))
	for _, m := range req.Mutations {
		namespace, name, _ := strings.Cut(m.Name, "|")
		muts = append(muts, mutagen.Mutation{
			ClientID:   m.ID.ClientID,
			MutationID: m.ID.MutationID,
			Namespace:  namespace,
			Name:       name,
			Args:       m.Args,
		})
		ids = append(ids, m.ID.MutationID)
	}

	if h.cvr != nil {
		if err := h.cvr.Touch(request.Context(), req.ClientGroupID); err != nil {
			slog.Default().WarnContext(request.Context(), "cvr_touch_failed",
				slog.String("client_group_id", req.ClientGroupID), slog.Any("error", err))
		}
	}

	results := h.processor.ProcessBatch(request.Context(), req.ClientGroupID, muts)

	resp := PushResponse{Mutations: make([]MutationResponse, 0, len(results))}
	for _, r := range results {
		mr := MutationResponse{}
		mr.ID.ClientID = r.ClientID
		mr.ID.MutationID = r.MutationID
		mr.Result = MutationOutcome{Error: r.Error, Details: r.Details, Data: r.Data}
		resp.Mutations = append(resp.Mutations, mr)
	}

	if len(resp.Mutations) == 0 && len(req.Mutations) > 0 {
		respond.JSON(writer, http.StatusInternalServerError, TransportError{Error: "http", MutationIDs: ids})
		return
	}

	respond.JSON(writer, http.StatusOK, resp)
}

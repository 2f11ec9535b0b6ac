package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dotside-studios/seatlink-agent/beacon"
	"github.com/dotside-studios/seatlink-agent/buildinfo"
	"github.com/dotside-studios/seatlink-agent/protocol"
	"github.com/dotside-studios/seatlink-agent/resolve"
)

// requestError is a client mistake reported as 400 with a code.
type requestError struct {
	code string
	err  error
}

func (e *requestError) Error() string { return e.err.Error() }
func (e *requestError) Unwrap() error { return e.err }

func badRequest(code string, err error) error {
	return &requestError{code: code, err: err}
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, protocol.ErrCodeInvalidRequest, "method not allowed")
		return
	}

	var body protocol.ResolveRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err := dec.Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, protocol.ErrCodeInvalidRequest, "invalid JSON body: "+err.Error())
		return
	}

	req, err := s.resolveRequest(r, body)
	if err != nil {
		var re *requestError
		if errors.As(err, &re) {
			writeError(w, http.StatusBadRequest, re.code, re.Error())
			return
		}
		Logf("[server] Loading allow-list failed: %v", err)
		writeError(w, http.StatusInternalServerError, protocol.ErrCodeInternalError, "failed to load allow-list")
		return
	}

	out := s.resolver.ResolveFor(r.Context(), callerKey(r), req)
	writeJSON(w, http.StatusOK, responseFromOutcome(out))
}

// resolveRequest fills what the body omits from the registry and the
// configured defaults.
func (s *Server) resolveRequest(r *http.Request, body protocol.ResolveRequest) (resolve.Request, error) {
	req := resolve.Request{
		Concurrent: s.config.Concurrent,
		Device:     strings.TrimSpace(body.DeviceID),
	}
	if body.Concurrent != nil {
		req.Concurrent = *body.Concurrent
	}
	if body.TimeoutMs < 0 {
		return req, badRequest(protocol.ErrCodeInvalidRequest, errors.New("timeoutMs must not be negative"))
	}
	req.TimeoutPerModality = time.Duration(body.TimeoutMs) * time.Millisecond

	for _, name := range body.Modalities {
		m, err := beacon.ParseModality(strings.TrimSpace(name))
		if err != nil {
			return req, badRequest(protocol.ErrCodeInvalidModality, err)
		}
		req.Modalities = append(req.Modalities, m)
	}

	for _, e := range body.AllowList {
		id, err := beacon.ParseIdentity(e.Identity)
		if err != nil {
			return req, badRequest(protocol.ErrCodeInvalidIdentity, err)
		}
		req.AllowList = append(req.AllowList, beacon.AllowEntry{Identity: id, TableID: e.TableID, Label: e.Label})
	}
	if len(req.AllowList) == 0 && s.registry != nil {
		list, err := s.registry.AllowList(r.Context())
		if err != nil {
			return req, err
		}
		req.AllowList = list
	}
	return req, nil
}

// callerKey identifies the caller for superseding. Without the session
// header the request is anonymous and supersedes nothing: many guests may
// share one address behind a proxy.
func callerKey(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(CallerHeader))
}

func responseFromOutcome(out resolve.Outcome) protocol.ResolveResponse {
	resp := protocol.ResolveResponse{
		Result:   out.Result.String(),
		Attempts: make([]protocol.AttemptPayload, 0, len(out.Attempts)),
	}
	if out.Found() {
		resp.TableID = out.TableID
		resp.Modality = string(out.Modality)
		resp.Identity = out.Identity.String()
	}
	if out.Err != nil {
		resp.Error = out.Err.Error()
	}
	if !out.StartedAt.IsZero() {
		resp.DurationMs = out.FinishedAt.Sub(out.StartedAt).Milliseconds()
	}
	for _, a := range out.Attempts {
		p := protocol.AttemptPayload{
			Modality: string(a.Modality),
			State:    a.State.String(),
			Frames:   a.Frames,
		}
		if a.Err != nil {
			p.Error = a.Err.Error()
		}
		resp.Attempts = append(resp.Attempts, p)
	}
	return resp
}

func (s *Server) handleBeacons(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, protocol.ErrCodeInvalidRequest, "method not allowed")
		return
	}
	resp := protocol.BeaconsResponse{Beacons: []protocol.BeaconPayload{}}
	if s.registry != nil {
		beacons, err := s.registry.Beacons(r.Context())
		if err != nil {
			Logf("[server] Listing beacons failed: %v", err)
			writeError(w, http.StatusInternalServerError, protocol.ErrCodeInternalError, "failed to list beacons")
			return
		}
		for _, b := range beacons {
			resp.Beacons = append(resp.Beacons, protocol.BeaconPayload{
				Identity: b.Identity.String(),
				TableID:  b.TableID,
				Label:    b.Label,
				LastSeen: b.LastSeen,
			})
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := protocol.HealthResponse{
		Status:     "ok",
		Version:    buildinfo.FullVersion(),
		Modalities: []string{},
	}
	for _, m := range s.resolver.Modalities() {
		resp.Modalities = append(resp.Modalities, string(m))
	}
	if s.devices != nil {
		resp.RemoteDevices = s.devices.Count()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCACert(w http.ResponseWriter, r *http.Request) {
	if s.ca == nil {
		http.NotFound(w, r)
		return
	}
	data, err := s.ca.CACert()
	if err != nil {
		Logf("[server] Reading CA failed: %v", err)
		http.Error(w, "CA certificate not available", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/x-x509-ca-cert")
	w.Header().Set("Content-Disposition", `attachment; filename="seatlink-ca.pem"`)
	w.Write(data)
}

package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"image"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/mdobak/go-xerrors"

	"github.com/menta2k/scan-viewer/internal/utils"
	"github.com/menta2k/scan-viewer/pkg/canvas"
	"github.com/menta2k/scan-viewer/pkg/chat"
	"github.com/menta2k/scan-viewer/pkg/gallery"
	"github.com/menta2k/scan-viewer/pkg/prediction"
	"github.com/menta2k/scan-viewer/pkg/viewer"
)

const maxFrameSide = 4096

type apiError struct {
	Message string `json:"message"`
}

type uploadResponse struct {
	viewer.Snapshot
	Prediction string `json:"prediction,omitempty"`
}

type chatRequest struct {
	Message string `json:"message"`
}

type chatResponse struct {
	Reply      chat.Message   `json:"reply"`
	Transcript []chat.Message `json:"transcript"`
}

type feedbackRequest struct {
	Verdict string `json:"verdict"`
	Note    string `json:"note,omitempty"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Error().Err(err).Msg("failed to encode JSON response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, apiError{Message: message})
}

// loadStatus maps a session load failure to a response status
func loadStatus(err error) (int, string) {
	var predErr *prediction.Error
	switch {
	case errors.As(err, &predErr):
		return http.StatusBadGateway, predErr.Message
	case errors.Is(err, prediction.ErrMalformedResult):
		return http.StatusBadGateway, "prediction service returned an unreadable result"
	case errors.Is(err, canvas.ErrImageDecode):
		return http.StatusUnprocessableEntity, "the uploaded file could not be decoded as an image"
	case errors.Is(err, viewer.ErrSuperseded):
		return http.StatusConflict, "upload superseded by a newer one"
	default:
		return http.StatusInternalServerError, "failed to load scan"
	}
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	if err := r.ParseMultipartForm(s.maxUpload); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid upload payload")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid upload payload")
		return
	}
	if len(data) == 0 {
		s.writeError(w, http.StatusBadRequest, "uploaded file is empty")
		return
	}

	kind := r.URL.Query().Get("kind")
	if kind == "" {
		kind = "chest"
	}
	log := s.log.With().Str("file", header.Filename).Str("kind", kind).
		Str("size", utils.FormatFileSize(int64(len(data)))).Logger()
	if !utils.IsImageFile(header.Filename) {
		log.Warn().Msg("upload has no image extension; trying to decode anyway")
	}

	if kind != "chest" && kind != "brain" {
		s.writeError(w, http.StatusBadRequest, "kind must be chest or brain")
		return
	}

	// The generation is taken before the prediction request so a slower,
	// older upload can't overwrite this one.
	gen := s.session.BeginUpload()
	s.broadcast()

	ctx := r.Context()
	var (
		result    prediction.Result
		brainText string
	)
	if kind == "chest" {
		result, err = s.predictor.AnalyzeChestXray(ctx, header.Filename, bytes.NewReader(data))
	} else {
		var pred prediction.BrainPrediction
		pred, err = s.predictor.AnalyzeBrainScan(ctx, header.Filename, bytes.NewReader(data))
		var predErr *prediction.Error
		if errors.As(err, &predErr) {
			result, err = prediction.ErrorResult(predErr.Message), nil
		} else if err == nil {
			brainText = pred.Prediction
			result = prediction.AnalysisResult(&prediction.Analysis{Summary: pred.Prediction})
		}
	}
	if err != nil {
		log.Error().Err(xerrors.New(err)).Msg("prediction request failed")
		s.finishUpload(gen)
		s.writeError(w, http.StatusBadGateway, "prediction service unavailable")
		return
	}

	loadErr := s.session.LoadUpload(ctx, gen, bytes.NewReader(data), result)
	if errors.Is(loadErr, viewer.ErrSuperseded) {
		status, msg := loadStatus(loadErr)
		log.Info().Msg("upload superseded by a newer one")
		s.writeError(w, status, msg)
		return
	}
	if loadErr != nil {
		s.finishUpload(gen)
		status, msg := loadStatus(loadErr)
		log.Warn().Err(loadErr).Int("status", status).Msg("upload rejected")
		s.writeError(w, status, msg)
		return
	}
	s.resetConversation()
	snap := s.broadcast()

	log.Info().Int("variants", len(snap.Regions)).Msg("upload loaded")
	s.writeJSON(w, http.StatusOK, uploadResponse{Snapshot: snap, Prediction: brainText})
}

// finishUpload abandons upload gen after it failed. The viewer goes back to
// pre-upload unless a newer upload has taken over.
func (s *Server) finishUpload(gen uint64) {
	s.session.AbortUpload(gen)
	if s.session.Phase() == viewer.PhasePreUpload {
		s.resetConversation()
	}
	s.broadcast()
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "index must be an integer")
		return
	}
	if err := s.session.Select(index); err != nil {
		if errors.Is(err, gallery.ErrIndexOutOfRange) {
			s.writeError(w, http.StatusNotFound, err.Error())
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, s.broadcast())
}

func (s *Server) handleZoom(w http.ResponseWriter, r *http.Request) {
	switch r.PathValue("action") {
	case "in":
		s.session.ZoomIn()
	case "out":
		s.session.ZoomOut()
	case "reset":
		s.session.ResetZoom()
	default:
		s.writeError(w, http.StatusNotFound, "zoom action must be in, out or reset")
		return
	}
	s.writeJSON(w, http.StatusOK, s.broadcast())
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	s.session.Reload()
	s.resetConversation()
	s.writeJSON(w, http.StatusOK, s.broadcast())
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.session.Snapshot())
}

func (s *Server) frameSize(r *http.Request) (int, int, error) {
	parse := func(key string, def int) (int, error) {
		v := r.URL.Query().Get(key)
		if v == "" {
			return def, nil
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxFrameSide {
			return 0, errors.New(key + " must be between 1 and 4096")
		}
		return n, nil
	}
	w, err := parse("w", s.frameW)
	if err != nil {
		return 0, 0, err
	}
	h, err := parse("h", s.frameH)
	if err != nil {
		return 0, 0, err
	}
	return w, h, nil
}

func (s *Server) handleFrame(w http.ResponseWriter, r *http.Request) {
	fw, fh, err := s.frameSize(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeImage(w, s.session.Frame(fw, fh), "png")
}

// handleVariant serves /api/variants/{index}.{png|jpg|webp}
func (s *Server) handleVariant(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	format := utils.GetFileExtension(name)
	if format == "" {
		format = "png"
	}
	index, err := strconv.Atoi(strings.TrimSuffix(name, filepath.Ext(name)))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "variant index must be an integer")
		return
	}
	v, err := s.session.Gallery().Variant(index)
	if err != nil {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.writeImage(w, v.Image, format)
}

func (s *Server) writeImage(w http.ResponseWriter, img image.Image, format string) {
	var buf bytes.Buffer
	if err := canvas.Encode(&buf, img, format, 90); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	w.Header().Set("Content-Type", canvas.ContentType(format))
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(buf.Bytes()); err != nil {
		s.log.Error().Err(err).Msg("failed to write image response")
	}
}

func (s *Server) resetConversation() {
	s.chatMu.Lock()
	defer s.chatMu.Unlock()
	s.conv = nil
}

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	s.chatMu.Lock()
	conv := s.conv
	s.chatMu.Unlock()

	transcript := []chat.Message{}
	if conv != nil {
		transcript = conv.Transcript()
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"transcript": transcript})
}

// handleChat starts the conversation from the current summary on first use,
// then sends the message.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if s.chatClient == nil {
		s.writeError(w, http.StatusServiceUnavailable, "chat is not configured")
		return
	}
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid chat payload")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		s.writeError(w, http.StatusBadRequest, "message is required")
		return
	}
	summary := s.session.Summary()
	if summary == "" {
		s.writeError(w, http.StatusConflict, "upload a scan before chatting")
		return
	}

	s.chatMu.Lock()
	defer s.chatMu.Unlock()

	ctx := r.Context()
	if s.conv == nil {
		conv := chat.NewConversation(s.chatClient)
		if _, err := conv.Start(ctx, summary); err != nil {
			s.log.Error().Err(xerrors.New(err)).Msg("chat start failed")
			s.writeError(w, http.StatusBadGateway, "chat backend unavailable")
			return
		}
		s.conv = conv
	}

	reply, err := s.conv.Send(ctx, req.Message)
	if err != nil {
		s.log.Error().Err(xerrors.New(err)).Msg("chat reply failed")
		s.writeError(w, http.StatusBadGateway, "chat backend unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, chatResponse{Reply: reply, Transcript: s.conv.Transcript()})
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid feedback payload")
		return
	}
	switch req.Verdict {
	case "verified", "corrected":
	default:
		s.writeError(w, http.StatusBadRequest, "verdict must be verified or corrected")
		return
	}

	snap := s.session.Snapshot()
	s.log.Info().
		Str("verdict", req.Verdict).
		Str("note", req.Note).
		Str("finding", snap.Finding).
		Int("regions", len(snap.Regions)).
		Msg("prediction feedback")
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "recorded"})
}

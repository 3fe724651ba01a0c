package main

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/mcclellann/oliveMill/pkg/export"
	"github.com/mcclellann/oliveMill/pkg/ledger"
	"github.com/mcclellann/oliveMill/pkg/metrics"
	"github.com/mcclellann/oliveMill/pkg/models"
	"github.com/mcclellann/oliveMill/pkg/settlement"
	"github.com/mcclellann/oliveMill/pkg/store"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Server holds the ledger instance.
type Server struct {
	ledger   *ledger.Ledger
	storage  store.Storage // Keep a reference to the storage to close it
	logger   *zap.Logger
	validate *validator.Validate

	receiptOptions []export.PDFOption
}

func NewServer(s store.Storage, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		ledger:   ledger.NewLedger(s, ledger.WithLogger(logger)),
		storage:  s,
		logger:   logger,
		validate: newValidator(),
	}
}

// Router registers every route on a fresh mux router.
func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()
	router.Use(s.loggingMiddleware)

	router.HandleFunc("/settings", s.getSettingsHandler).Methods("GET")
	router.HandleFunc("/settings", s.updateSettingsHandler).Methods("PUT")

	router.HandleFunc("/queue", s.listQueueHandler).Methods("GET")
	router.HandleFunc("/queue", s.addToQueueHandler).Methods("POST")
	router.HandleFunc("/queue/{id}", s.getQueueEntryHandler).Methods("GET")
	router.HandleFunc("/queue/{id}", s.cancelQueueEntryHandler).Methods("DELETE")
	router.HandleFunc("/queue/{id}/preview", s.previewHandler).Methods("POST")
	router.HandleFunc("/queue/{id}/invoice", s.issueInvoiceHandler).Methods("POST")
	router.HandleFunc("/queue/{id}/reconcile", s.reconcileHandler).Methods("POST")

	router.HandleFunc("/invoices", s.listInvoicesHandler).Methods("GET")
	router.HandleFunc("/invoices/{id}", s.getInvoiceHandler).Methods("GET")
	router.HandleFunc("/invoices/{id}/receipt", s.invoiceReceiptHandler).Methods("GET")
	router.HandleFunc("/customers/{customerID}/invoices", s.customerHistoryHandler).Methods("GET")

	router.HandleFunc("/trades", s.listTradesHandler).Methods("GET")
	router.HandleFunc("/trades", s.recordTradeHandler).Methods("POST")

	router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	return router
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		s.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", sw.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error        string `json:"error"`
	Field        string `json:"field,omitempty"`
	Step         string `json:"step,omitempty"`
	InvoiceID    string `json:"invoice_id,omitempty"`
	QueueEntryID string `json:"queue_entry_id,omitempty"`
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		fieldErr *settlement.FieldError
		reconErr *ledger.ReconciliationError
		persErr  *ledger.PersistenceError
	)
	switch {
	case errors.As(err, &fieldErr):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: fieldErr.Error(), Field: fieldErr.Field})
	case errors.Is(err, ledger.ErrQueueEntryNotFound), errors.Is(err, ledger.ErrInvoiceNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	case errors.As(err, &reconErr):
		s.logger.Warn("invoice issued but queue entry not completed",
			zap.String("invoice_id", reconErr.InvoiceID.String()),
			zap.String("queue_entry_id", reconErr.QueueEntryID.String()),
			zap.Error(reconErr.Err),
		)
		writeJSON(w, http.StatusConflict, errorResponse{
			Error:        reconErr.Error(),
			InvoiceID:    reconErr.InvoiceID.String(),
			QueueEntryID: reconErr.QueueEntryID.String(),
		})
	case errors.As(err, &persErr):
		s.logger.Error("persistence failure", zap.String("step", string(persErr.Step)), zap.Error(persErr.Err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{
			Error:        persErr.Error(),
			Step:         string(persErr.Step),
			QueueEntryID: persErr.QueueEntryID.String(),
		})
	default:
		s.logger.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
	}
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
		return false
	}
	if err := validateRequest(s.validate, dst); err != nil {
		s.writeError(w, r, err)
		return false
	}
	return true
}

func parseID(w http.ResponseWriter, r *http.Request, what string) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid " + what + " id", Field: "id"})
		return uuid.Nil, false
	}
	return id, true
}

func (s *Server) getSettingsHandler(w http.ResponseWriter, r *http.Request) {
	settings, err := s.ledger.Settings(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (s *Server) updateSettingsHandler(w http.ResponseWriter, r *http.Request) {
	var req models.MillSettings
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
		return
	}
	settings, err := s.ledger.UpdateSettings(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (s *Server) listQueueHandler(w http.ResponseWriter, r *http.Request) {
	status := models.QueueStatus(r.URL.Query().Get("status"))
	switch status {
	case "", models.QueueStatusPending, models.QueueStatusCompleted, models.QueueStatusCancelled:
	default:
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "status must be pending, completed or cancelled", Field: "status"})
		return
	}
	entries, err := s.ledger.ListQueue(r.Context(), status)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if entries == nil {
		entries = []*models.QueueEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) addToQueueHandler(w http.ResponseWriter, r *http.Request) {
	var req queueRequest
	if !s.decode(w, r, &req) {
		return
	}
	entry, err := s.ledger.AddToQueue(r.Context(), ledger.AddToQueueRequest{
		CustomerID:   req.CustomerID,
		CustomerName: req.CustomerName,
		Phone:        req.Phone,
		Notes:        req.Notes,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (s *Server) getQueueEntryHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "queue entry")
	if !ok {
		return
	}
	entry, err := s.ledger.GetQueueEntry(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) cancelQueueEntryHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "queue entry")
	if !ok {
		return
	}
	if err := s.ledger.CancelQueueEntry(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) previewHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "queue entry")
	if !ok {
		return
	}
	var req settlementRequest
	if !s.decode(w, r, &req) {
		return
	}
	result, err := s.ledger.PreviewSettlement(r.Context(), id, req.OilAmount, req.containers(), models.PaymentMode(req.PaymentMode))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) issueInvoiceHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "queue entry")
	if !ok {
		return
	}
	var req settlementRequest
	if !s.decode(w, r, &req) {
		return
	}
	invoice, err := s.ledger.IssueInvoice(r.Context(), ledger.IssueInvoiceRequest{
		QueueEntryID: id,
		OilAmount:    req.OilAmount,
		Containers:   req.containers(),
		Mode:         models.PaymentMode(req.PaymentMode),
		Notes:        req.Notes,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, invoice)
}

func (s *Server) reconcileHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "queue entry")
	if !ok {
		return
	}
	invoice, err := s.ledger.ReconcileQueueEntry(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, invoice)
}

func (s *Server) listInvoicesHandler(w http.ResponseWriter, r *http.Request) {
	invoices, err := s.ledger.ListInvoices(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if invoices == nil {
		invoices = []*models.Invoice{}
	}

	format := r.URL.Query().Get("format")
	switch format {
	case "", "json":
		writeJSON(w, http.StatusOK, invoices)
	case export.FormatCSV:
		out, err := export.InvoicesCSV(invoices)
		s.writeExport(w, r, format, "text/csv", "invoices.csv", out, err)
	case export.FormatXLSX:
		out, err := export.InvoicesXLSX(invoices)
		s.writeExport(w, r, format, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", "invoices.xlsx", out, err)
	default:
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "format must be json, csv or xlsx", Field: "format"})
	}
}

func (s *Server) writeExport(w http.ResponseWriter, r *http.Request, format, contentType, filename string, out []byte, err error) {
	if err != nil {
		metrics.IncExport(format, metrics.ResultError)
		s.writeError(w, r, err)
		return
	}
	metrics.IncExport(format, metrics.ResultSuccess)
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.WriteHeader(http.StatusOK)
	w.Write(out)
}

func (s *Server) getInvoiceHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "invoice")
	if !ok {
		return
	}
	invoice, err := s.ledger.GetInvoice(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, invoice)
}

func (s *Server) invoiceReceiptHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "invoice")
	if !ok {
		return
	}
	invoice, err := s.ledger.GetInvoice(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out, err := export.InvoicePDF(invoice, s.receiptOptions...)
	s.writeExport(w, r, export.FormatPDF, "application/pdf", "invoice-"+invoice.ID.String()+".pdf", out, err)
}

func (s *Server) customerHistoryHandler(w http.ResponseWriter, r *http.Request) {
	history, err := s.ledger.CustomerHistory(r.Context(), mux.Vars(r)["customerID"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

func (s *Server) listTradesHandler(w http.ResponseWriter, r *http.Request) {
	trades, err := s.ledger.ListOilTrades(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if trades == nil {
		trades = []*models.OilTrade{}
	}
	writeJSON(w, http.StatusOK, trades)
}

func (s *Server) recordTradeHandler(w http.ResponseWriter, r *http.Request) {
	var req tradeRequest
	if !s.decode(w, r, &req) {
		return
	}
	trade, err := s.ledger.RecordOilTrade(r.Context(), ledger.RecordOilTradeRequest{
		Kind:         models.TradeKind(req.Kind),
		Quantity:     req.Quantity,
		UnitPrice:    req.UnitPrice,
		Counterparty: req.Counterparty,
		Notes:        req.Notes,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, trade)
}

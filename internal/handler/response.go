package handler

import (
	"errors"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/richoz-sanitaire/intervention-service/internal/errs"
	"go.uber.org/zap"
)

const (
	msgUnauthorized = "Non autorisé"
	msgForbidden    = "Accès refusé"
	msgInvalid      = "Données invalides"
	msgInternal     = "Erreur interne du serveur"
)

// FieldError — диагностика одного поля для ответа 400.
type FieldError struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
	Param string `json:"param,omitempty"`
}

var registerOnce sync.Once

// RegisterValidation переключает имена полей валидатора gin на json-теги.
func RegisterValidation() {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	})
}

func fail(c *gin.Context, status int, msg string, details interface{}) {
	body := gin.H{"success": false, "error": msg}
	if details != nil {
		body["details"] = details
	}
	c.AbortWithStatusJSON(status, body)
}

// bindJSON разбирает тело; при ошибке уже ответил 400 с деталями по полям.
func bindJSON(c *gin.Context, req interface{}) bool {
	err := c.ShouldBindJSON(req)
	if err == nil {
		return true
	}
	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		details := make([]FieldError, 0, len(ve))
		for _, fe := range ve {
			details = append(details, FieldError{Field: fieldPath(fe), Rule: fe.Tag(), Param: fe.Param()})
		}
		fail(c, http.StatusBadRequest, msgInvalid, details)
		return false
	}
	fail(c, http.StatusBadRequest, msgInvalid, err.Error())
	return false
}

// bindOptionalJSON — как bindJSON, но пустое тело допустимо.
func bindOptionalJSON(c *gin.Context, req interface{}) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	return bindJSON(c, req)
}

// fieldPath: "req.line_items[0].description" -> "line_items[0].description".
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return fe.Field()
}

func parseID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		fail(c, http.StatusBadRequest, msgInvalid, []FieldError{{Field: name, Rule: "uuid"}})
		return uuid.Nil, false
	}
	return id, true
}

// mustUUID — только для строк, уже прошедших тег `uuid`.
func mustUUID(s string) uuid.UUID {
	return uuid.MustParse(s)
}

func optionalUUID(s string) *uuid.UUID {
	if s == "" {
		return nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return nil
	}
	return &id
}

func page(c *gin.Context) (limit, offset int) {
	if v := c.Query("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if v := c.Query("offset"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed >= 0 {
			offset = parsed
		}
	}
	return limit, offset
}

// writeError переводит доменную ошибку в HTTP-статус и единый ответ {success:false, error}.
func writeError(c *gin.Context, log *zap.Logger, err error) {
	switch {
	case errors.Is(err, errs.ErrValidation):
		fail(c, http.StatusBadRequest, msgInvalid, err.Error())
	case errors.Is(err, errs.ErrInterventionNotFound):
		fail(c, http.StatusNotFound, "Intervention introuvable", nil)
	case errors.Is(err, errs.ErrReportNotFound):
		fail(c, http.StatusNotFound, "Rapport introuvable", nil)
	case errors.Is(err, errs.ErrEmailNotFound):
		fail(c, http.StatusNotFound, "E-mail introuvable", nil)
	case errors.Is(err, errs.ErrInvoiceNotFound):
		fail(c, http.StatusNotFound, "Facture introuvable", nil)
	case errors.Is(err, errs.ErrRegieNotFound):
		fail(c, http.StatusNotFound, "Régie introuvable", nil)
	case errors.Is(err, errs.ErrUserNotFound):
		fail(c, http.StatusNotFound, "Utilisateur introuvable", nil)
	case errors.Is(err, errs.ErrInvalidTransition):
		fail(c, http.StatusConflict, "Changement de statut non autorisé", err.Error())
	case errors.Is(err, errs.ErrReportLocked):
		fail(c, http.StatusConflict, "Rapport validé, modification impossible", nil)
	case errors.Is(err, errs.ErrRevisionConflict):
		fail(c, http.StatusConflict, "Le rapport a été modifié entre-temps", nil)
	case errors.Is(err, errs.ErrEmailAlreadyProcessed):
		fail(c, http.StatusConflict, "E-mail déjà traité", nil)
	case errors.Is(err, errs.ErrUpstream):
		log.Warn("upstream failure", zap.String("path", c.FullPath()), zap.Error(err))
		fail(c, http.StatusBadGateway, "Service externe indisponible", nil)
	case errors.Is(err, errs.ErrNotConfigured):
		fail(c, http.StatusServiceUnavailable, "Service non configuré", nil)
	default:
		log.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		fail(c, http.StatusInternalServerError, msgInternal, nil)
	}
}

package httpapi

import (
	"net/http"

	"authgate.org/internal/auth"
	"authgate.org/internal/domain"
	"authgate.org/internal/result"
	"authgate.org/internal/workflow"
)

type registerRequest struct {
	Email           string   `json:"email" validate:"required,email,max=256"`
	Password        string   `json:"password" validate:"required,min=6,max=72"`
	ConfirmPassword string   `json:"confirmPassword" validate:"required"`
	Roles           []string `json:"roles" validate:"omitempty,dive,required,max=64"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken" validate:"required"`
}

type registerResponse struct {
	Message string          `json:"message"`
	User    domain.UserInfo `json:"user"`
}

// bind decodes and validates the body, writing a 400 on failure.
func bind(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := decodeJSON(r, dst); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return false
	}
	if errs := validateStruct(dst); len(errs) > 0 {
		writeFailure(w, r, result.Failure[struct{}]("Validation failed.",
			result.WithCode(result.CodeValidation), result.WithValidationErrors(errs...)))
		return false
	}
	return true
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req registerRequest
	if !bind(w, r, &req) {
		return
	}
	res := a.flow.Register(r.Context(), workflow.RegisterRequest{
		Email:           req.Email,
		Password:        req.Password,
		ConfirmPassword: req.ConfirmPassword,
		Roles:           req.Roles,
	})
	if !res.OK() {
		writeFailure(w, r, res)
		return
	}
	writeJSON(w, http.StatusOK, registerResponse{Message: res.Message(), User: res.Data()})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req loginRequest
	if !bind(w, r, &req) {
		return
	}
	res := a.flow.Login(r.Context(), workflow.LoginRequest{Email: req.Email, Password: req.Password})
	if !res.OK() {
		writeFailure(w, r, res)
		return
	}
	writeJSON(w, http.StatusOK, res.Data())
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req refreshRequest
	if !bind(w, r, &req) {
		return
	}
	res := a.flow.RefreshToken(r.Context(), req.RefreshToken)
	if !res.OK() {
		writeFailure(w, r, res)
		return
	}
	writeJSON(w, http.StatusOK, res.Data())
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "missing bearer token")
		return
	}
	res := a.flow.UserInfo(r.Context(), userID)
	if !res.OK() {
		writeFailure(w, r, res)
		return
	}
	writeJSON(w, http.StatusOK, res.Data())
}

func (a *API) handleJWKS(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	set, err := a.keys.JWKS()
	if err != nil {
		a.log.WithError(err).Error("publish jwks")
		writeError(w, r, http.StatusInternalServerError, "signing keys unavailable")
		return
	}
	w.Header().Set("Cache-Control", "public, max-age=300")
	writeJSON(w, http.StatusOK, set)
}

package postgres

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/JakeFAU/site-tracker/internal/store"
)

// SQLSTATE codes that map to something other than connectivity.
const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
	codeCheckViolation      = "23514"
	codeNotNullViolation    = "23502"
	codeInvalidText         = "22P02"
	codeTooManyConnections  = "53300"
	codeOutOfMemory         = "53200"
	codeConfigLimitExceeded = "53400"
	codeQueryCanceled       = "57014"
)

func classify(op string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return store.E(store.KindNotFound, op, Backend, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return store.E(kindForCode(pgErr.Code), op, Backend, err)
	}
	// Dial failures, closed pools and timeouts all surface as plain errors.
	return store.E(store.KindConnectivity, op, Backend, err)
}

func kindForCode(code string) store.ErrorKind {
	switch code {
	case codeUniqueViolation:
		return store.KindConflict
	case codeForeignKeyViolation, codeCheckViolation, codeNotNullViolation, codeInvalidText:
		return store.KindValidation
	case codeTooManyConnections, codeOutOfMemory, codeConfigLimitExceeded:
		return store.KindCapacity
	case codeQueryCanceled:
		return store.KindConnectivity
	}
	switch {
	case strings.HasPrefix(code, "28"):
		return store.KindAuth
	case strings.HasPrefix(code, "08"), strings.HasPrefix(code, "57P"):
		return store.KindConnectivity
	case strings.HasPrefix(code, "22"), strings.HasPrefix(code, "23"), strings.HasPrefix(code, "42"):
		return store.KindValidation
	}
	return store.KindUnknown
}

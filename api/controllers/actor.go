package controllers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/gastonanderson039-glitch/supermarketpro/api/middleware"
	cartsvc "github.com/gastonanderson039-glitch/supermarketpro/internal/cart"
	ordersvc "github.com/gastonanderson039-glitch/supermarketpro/internal/orders"
	"github.com/gastonanderson039-glitch/supermarketpro/pkg/enums"
	pkgerrors "github.com/gastonanderson039-glitch/supermarketpro/pkg/errors"
)

const sessionTokenHeader = "X-Session-Token"

// actorFromRequest builds the domain actor from the authenticated claims.
func actorFromRequest(r *http.Request) (ordersvc.Actor, error) {
	userID, err := uuid.Parse(middleware.UserIDFromContext(r.Context()))
	if err != nil {
		return ordersvc.Actor{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing user context")
	}

	role, err := enums.ParseActorRole(middleware.RoleFromContext(r.Context()))
	if err != nil {
		return ordersvc.Actor{}, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "missing role context")
	}

	actor := ordersvc.Actor{UserID: userID, Role: role}
	if raw := middleware.VendorIDFromContext(r.Context()); raw != "" {
		vendorID, parseErr := uuid.Parse(raw)
		if parseErr != nil {
			return ordersvc.Actor{}, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, parseErr, "invalid vendor context")
		}
		actor.VendorID = vendorID
	}
	return actor, nil
}

// cartOwnerFromRequest resolves the cart owner: the customer claim when the
// request is authenticated, the session token header for guests. Never both.
func cartOwnerFromRequest(r *http.Request) (cartsvc.OwnerRef, error) {
	if raw := middleware.UserIDFromContext(r.Context()); raw != "" {
		customerID, err := uuid.Parse(raw)
		if err != nil {
			return cartsvc.OwnerRef{}, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid user context")
		}
		return cartsvc.OwnerRef{CustomerID: &customerID}, nil
	}

	token := r.Header.Get(sessionTokenHeader)
	if token == "" {
		return cartsvc.OwnerRef{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication or session token required")
	}
	return cartsvc.OwnerRef{SessionToken: &token}, nil
}

func pathUUID(r *http.Request, key string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, key))
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid identifier in path")
	}
	return id, nil
}

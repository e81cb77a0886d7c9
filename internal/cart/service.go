package cart

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/modaluna/modaluna-backend/internal/pricing"
	"github.com/modaluna/modaluna-backend/pkg/db/models"
	"github.com/modaluna/modaluna-backend/pkg/enums"
	pkgerrors "github.com/modaluna/modaluna-backend/pkg/errors"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type variantLoader interface {
	GetVariant(ctx context.Context, variantID uuid.UUID) (*models.Variant, error)
	GetVariants(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.Variant, error)
}

type priceResolver interface {
	CurrentPrice(ctx context.Context, productID uuid.UUID, at time.Time) (*pricing.ResolvedPrice, error)
}

// Identity names the owner of a cart: an authenticated user, an anonymous
// session, or both once the user has signed in mid-session.
type Identity struct {
	UserID    *uuid.UUID
	SessionID *string
}

func (i Identity) validate() error {
	if i.UserID == nil && i.SessionID == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "a user or session identity is required")
	}
	return nil
}

// TotalsLine is one cart line priced at the current instant.
type TotalsLine struct {
	ItemID    uuid.UUID       `json:"itemId"`
	VariantID uuid.UUID       `json:"variantId"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	LineTotal decimal.Decimal `json:"lineTotal"`
	TriedOn3D bool            `json:"triedOn3d"`
}

// Totals is the display quote for a cart. Prices here are advisory; checkout
// re-resolves everything inside its own transaction.
type Totals struct {
	CartID    uuid.UUID       `json:"cartId"`
	Currency  enums.Currency  `json:"currency"`
	Lines     []TotalsLine    `json:"lines"`
	Subtotal  decimal.Decimal `json:"subtotal"`
	Discount  decimal.Decimal `json:"discount"`
	Total     decimal.Decimal `json:"total"`
	ItemCount int             `json:"itemCount"`
}

// Service manages the pre-purchase basket.
type Service interface {
	GetOrCreate(ctx context.Context, identity Identity) (*models.Cart, error)
	AddItem(ctx context.Context, identity Identity, variantID uuid.UUID, qty int) (*models.Cart, error)
	UpdateQuantity(ctx context.Context, identity Identity, itemID uuid.UUID, qty int) (*models.Cart, error)
	RemoveItem(ctx context.Context, identity Identity, itemID uuid.UUID) (*models.Cart, error)
	MarkItemTriedOn(ctx context.Context, identity Identity, itemID uuid.UUID, triedOn bool) (*models.Cart, error)
	Abandon(ctx context.Context, identity Identity) error
	MergeGuestCart(ctx context.Context, userID uuid.UUID, sessionID string) (*models.Cart, error)
	ComputeTotals(ctx context.Context, identity Identity) (*Totals, error)
}

type service struct {
	tx       txRunner
	repo     Repository
	variants variantLoader
	prices   priceResolver
}

// NewService builds the cart service.
func NewService(tx txRunner, repo Repository, variants variantLoader, prices priceResolver) (Service, error) {
	if tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if repo == nil {
		return nil, fmt.Errorf("cart repository required")
	}
	if variants == nil {
		return nil, fmt.Errorf("variant loader required")
	}
	if prices == nil {
		return nil, fmt.Errorf("price resolver required")
	}
	return &service{tx: tx, repo: repo, variants: variants, prices: prices}, nil
}

// GetOrCreate resolves the caller's active cart, preferring the user cart
// over the session cart, and creates an empty one when neither exists.
func (s *service) GetOrCreate(ctx context.Context, identity Identity) (*models.Cart, error) {
	if err := identity.validate(); err != nil {
		return nil, err
	}
	cart, err := s.findActive(ctx, s.repo, identity)
	if err != nil {
		return nil, err
	}
	if cart != nil {
		return cart, nil
	}

	cart = newCartRow(identity)
	if err := s.repo.Create(ctx, cart); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "creating cart")
	}
	return cart, nil
}

// newCartRow binds a fresh cart to exactly one identity; a signed-in user
// never gets a session-scoped cart row.
func newCartRow(identity Identity) *models.Cart {
	row := &models.Cart{
		Status:   enums.CartStatusActive,
		Currency: enums.CurrencyUSD,
	}
	if identity.UserID != nil {
		row.UserID = identity.UserID
	} else {
		row.SessionID = identity.SessionID
	}
	return row
}

// AddItem appends a variant to the cart, merging into an existing line when
// the variant is already present. The stock check here is advisory; only
// checkout's conditional decrement is authoritative.
func (s *service) AddItem(ctx context.Context, identity Identity, variantID uuid.UUID, qty int) (*models.Cart, error) {
	if err := identity.validate(); err != nil {
		return nil, err
	}
	if qty < 1 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be at least 1")
	}

	variant, err := s.variants.GetVariant(ctx, variantID)
	if err != nil {
		return nil, err
	}

	var cartID uuid.UUID
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		cart, err := s.getOrCreateTx(ctx, repo, identity)
		if err != nil {
			return err
		}
		cartID = cart.ID

		existing, err := repo.FindItem(ctx, cart.ID, variantID)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading cart item")
		}

		requested := qty
		if existing != nil {
			requested += existing.Quantity
		}
		if requested > variant.Stock {
			return pkgerrors.InsufficientStock(variant.SKU)
		}

		if existing != nil {
			return repo.UpdateItem(ctx, existing.ID, map[string]any{"quantity": requested})
		}

		unitPrice, err := s.displayPrice(ctx, variant)
		if err != nil {
			return err
		}
		item := &models.CartItem{
			CartID:    cart.ID,
			VariantID: variantID,
			Quantity:  qty,
			UnitPrice: unitPrice,
		}
		return repo.CreateItem(ctx, item)
	})
	if err != nil {
		return nil, err
	}
	return s.reload(ctx, cartID)
}

// UpdateQuantity sets the line quantity; zero or less removes the line.
func (s *service) UpdateQuantity(ctx context.Context, identity Identity, itemID uuid.UUID, qty int) (*models.Cart, error) {
	if err := identity.validate(); err != nil {
		return nil, err
	}

	var cartID uuid.UUID
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		cart, item, err := s.findOwnedItem(ctx, repo, identity, itemID)
		if err != nil {
			return err
		}
		cartID = cart.ID

		if qty <= 0 {
			return repo.DeleteItem(ctx, item.ID)
		}
		return repo.UpdateItem(ctx, item.ID, map[string]any{"quantity": qty})
	})
	if err != nil {
		return nil, err
	}
	return s.reload(ctx, cartID)
}

func (s *service) RemoveItem(ctx context.Context, identity Identity, itemID uuid.UUID) (*models.Cart, error) {
	return s.UpdateQuantity(ctx, identity, itemID, 0)
}

// MarkItemTriedOn flags a line as previewed in the 3D fitting room. The flag
// is frozen onto order items at checkout and drives the return metrics split.
func (s *service) MarkItemTriedOn(ctx context.Context, identity Identity, itemID uuid.UUID, triedOn bool) (*models.Cart, error) {
	if err := identity.validate(); err != nil {
		return nil, err
	}

	var cartID uuid.UUID
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		cart, item, err := s.findOwnedItem(ctx, repo, identity, itemID)
		if err != nil {
			return err
		}
		cartID = cart.ID
		return repo.UpdateItem(ctx, item.ID, map[string]any{"tried_on_3d": triedOn})
	})
	if err != nil {
		return nil, err
	}
	return s.reload(ctx, cartID)
}

// Abandon retires the active cart without deleting it.
func (s *service) Abandon(ctx context.Context, identity Identity) error {
	if err := identity.validate(); err != nil {
		return err
	}
	cart, err := s.findActive(ctx, s.repo, identity)
	if err != nil {
		return err
	}
	if cart == nil {
		return pkgerrors.New(pkgerrors.CodeNotFound, "no active cart")
	}
	if err := s.repo.UpdateStatus(ctx, cart.ID, enums.CartStatusAbandoned); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "abandoning cart")
	}
	return nil
}

// MergeGuestCart folds the anonymous session cart into the user's cart on
// sign-in. Calling it again after the guest cart has been converted is a
// no-op, so retried sign-in flows cannot double quantities.
func (s *service) MergeGuestCart(ctx context.Context, userID uuid.UUID, sessionID string) (*models.Cart, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	if sessionID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "session id required")
	}

	var resultID uuid.UUID
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		guest, err := repo.FindActiveBySession(ctx, sessionID)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading guest cart")
		}

		userCart, err := repo.FindActiveByUser(ctx, userID)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading user cart")
		}

		// nothing to merge: fall through to the user cart, creating it
		// if the user has none either
		if guest == nil || (guest.UserID != nil && *guest.UserID == userID) {
			if userCart != nil {
				resultID = userCart.ID
				return nil
			}
			if guest != nil {
				resultID = guest.ID
				return nil
			}
			fresh := &models.Cart{
				UserID:   &userID,
				Status:   enums.CartStatusActive,
				Currency: enums.CurrencyUSD,
			}
			if err := repo.Create(ctx, fresh); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "creating cart")
			}
			resultID = fresh.ID
			return nil
		}

		// guest cart exists and the user has no cart: adopt it wholesale
		if userCart == nil {
			if err := repo.AssignUser(ctx, guest.ID, userID); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "adopting guest cart")
			}
			resultID = guest.ID
			return nil
		}

		// both exist: merge guest lines into the user cart
		for _, guestItem := range guest.Items {
			existing, err := repo.FindItem(ctx, userCart.ID, guestItem.VariantID)
			if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading user cart item")
			}
			if existing != nil {
				fields := map[string]any{"quantity": existing.Quantity + guestItem.Quantity}
				if guestItem.TriedOn3D && !existing.TriedOn3D {
					fields["tried_on_3d"] = true
				}
				if err := repo.UpdateItem(ctx, existing.ID, fields); err != nil {
					return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "merging cart item")
				}
				continue
			}
			item := &models.CartItem{
				CartID:    userCart.ID,
				VariantID: guestItem.VariantID,
				Quantity:  guestItem.Quantity,
				UnitPrice: guestItem.UnitPrice,
				TriedOn3D: guestItem.TriedOn3D,
			}
			if err := repo.CreateItem(ctx, item); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "copying cart item")
			}
		}
		if err := repo.UpdateStatus(ctx, guest.ID, enums.CartStatusConverted); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "retiring guest cart")
		}
		resultID = userCart.ID
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.reload(ctx, resultID)
}

// ComputeTotals prices the cart at the current instant.
func (s *service) ComputeTotals(ctx context.Context, identity Identity) (*Totals, error) {
	if err := identity.validate(); err != nil {
		return nil, err
	}
	cart, err := s.findActive(ctx, s.repo, identity)
	if err != nil {
		return nil, err
	}
	if cart == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no active cart")
	}

	ids := make([]uuid.UUID, len(cart.Items))
	for i, item := range cart.Items {
		ids[i] = item.VariantID
	}
	variants, err := s.variants.GetVariants(ctx, ids)
	if err != nil {
		return nil, err
	}

	totals := &Totals{
		CartID:   cart.ID,
		Currency: cart.Currency,
		Subtotal: decimal.Zero,
		Discount: decimal.Zero,
	}
	for _, item := range cart.Items {
		variant, ok := variants[item.VariantID]
		if !ok {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "variant not found")
		}
		unitPrice, err := s.displayPrice(ctx, &variant)
		if err != nil {
			return nil, err
		}
		lineTotal := unitPrice.Mul(decimal.NewFromInt(int64(item.Quantity)))
		totals.Lines = append(totals.Lines, TotalsLine{
			ItemID:    item.ID,
			VariantID: item.VariantID,
			Quantity:  item.Quantity,
			UnitPrice: unitPrice,
			LineTotal: lineTotal,
			TriedOn3D: item.TriedOn3D,
		})
		totals.Subtotal = totals.Subtotal.Add(lineTotal)
		totals.ItemCount += item.Quantity
	}
	// promotions are not implemented yet, the quote still carries the field
	totals.Total = totals.Subtotal.Sub(totals.Discount)
	return totals, nil
}

func (s *service) findActive(ctx context.Context, repo Repository, identity Identity) (*models.Cart, error) {
	if identity.UserID != nil {
		cart, err := repo.FindActiveByUser(ctx, *identity.UserID)
		if err == nil {
			return cart, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading user cart")
		}
	}
	if identity.SessionID != nil {
		cart, err := repo.FindActiveBySession(ctx, *identity.SessionID)
		if err == nil {
			return cart, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading session cart")
		}
	}
	return nil, nil
}

func (s *service) getOrCreateTx(ctx context.Context, repo Repository, identity Identity) (*models.Cart, error) {
	cart, err := s.findActive(ctx, repo, identity)
	if err != nil {
		return nil, err
	}
	if cart != nil {
		return cart, nil
	}
	cart = newCartRow(identity)
	if err := repo.Create(ctx, cart); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "creating cart")
	}
	return cart, nil
}

func (s *service) findOwnedItem(ctx context.Context, repo Repository, identity Identity, itemID uuid.UUID) (*models.Cart, *models.CartItem, error) {
	cart, err := s.findActive(ctx, repo, identity)
	if err != nil {
		return nil, nil, err
	}
	if cart == nil {
		return nil, nil, pkgerrors.New(pkgerrors.CodeNotFound, "no active cart")
	}
	item, err := repo.FindItemByID(ctx, itemID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, pkgerrors.New(pkgerrors.CodeNotFound, "cart item not found")
		}
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading cart item")
	}
	if item.CartID != cart.ID {
		return nil, nil, pkgerrors.New(pkgerrors.CodeForbidden, "cart item belongs to another cart")
	}
	return cart, item, nil
}

func (s *service) displayPrice(ctx context.Context, variant *models.Variant) (decimal.Decimal, error) {
	if variant.PriceOverride != nil {
		return *variant.PriceOverride, nil
	}
	resolved, err := s.prices.CurrentPrice(ctx, variant.ProductID, time.Now())
	if err != nil {
		return decimal.Zero, err
	}
	return resolved.Price, nil
}

func (s *service) reload(ctx context.Context, cartID uuid.UUID) (*models.Cart, error) {
	cart, err := s.repo.FindByID(ctx, cartID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reloading cart")
	}
	return cart, nil
}

package order

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"ms-pos/internal/apperr"
	"ms-pos/internal/auth"
	"ms-pos/internal/logger"
	"ms-pos/internal/models"
	"ms-pos/internal/utils"
)

// Tx is the transactional surface the state machine mutates through. Every
// business operation runs inside exactly one Tx so check-then-act sequences
// are never interleaved with a concurrent writer.
type Tx interface {
	OrderForUpdate(ctx context.Context, tenantID, orderID string) (*models.Order, error)
	NextOrderNumber(ctx context.Context, tenantID string, day time.Time) (int, error)
	InsertOrder(ctx context.Context, o *models.Order) error
	UpdateOrder(ctx context.Context, o *models.Order) error
	DeleteOrder(ctx context.Context, tenantID, orderID string) error
	InsertLineItems(ctx context.Context, items []models.OrderLineItem, addons []models.LineItemAddon) error

	Product(ctx context.Context, tenantID, productID string) (*models.Product, error)
	PaymentMethod(ctx context.Context, tenantID, methodID string) (*models.PaymentMethod, error)

	AppendPayment(ctx context.Context, p *models.Payment) error
	PaymentsTotal(ctx context.Context, tenantID, orderID string) (decimal.Decimal, error)
	HighestDiscountPct(ctx context.Context, tenantID, orderID string) (decimal.Decimal, error)

	TableForUpdate(ctx context.Context, tenantID, tableID string) (*models.Table, error)
	OccupyTable(ctx context.Context, table *models.Table, orderID string) error
	FreeTable(ctx context.Context, table *models.Table) error
}

type Store interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	HydratedOrder(ctx context.Context, tenantID, orderID string) (*models.HydratedOrder, error)
	ListOrders(ctx context.Context, tenantID string, filter ListFilter) ([]models.HydratedOrder, error)
}

// Publisher receives state changes after the owning transaction commits.
// Implementations must not block the request path.
type Publisher interface {
	OrderCreated(tenantID string, o *models.HydratedOrder)
	OrderUpdated(tenantID string, o *models.HydratedOrder)
	OrderFinalized(tenantID string, o *models.HydratedOrder)
	TableUpdated(tenantID string, t *models.Table)
}

type ListFilter struct {
	Status models.OrderStatus
	Mode   models.DeliveryMode
	From   time.Time
	To     time.Time
	Search string
}

type AddonRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type ItemRequest struct {
	ProductID string         `json:"product_id"`
	Quantity  int            `json:"quantity"`
	Note      string         `json:"note,omitempty"`
	Addons    []AddonRequest `json:"addons,omitempty"`
}

type CreateRequest struct {
	Mode            models.DeliveryMode `json:"mode"`
	TableID         string              `json:"table_id,omitempty"`
	CustomerID      string              `json:"customer_id,omitempty"`
	CustomerName    string              `json:"customer_name,omitempty"`
	DeliveryAddress string              `json:"delivery_address,omitempty"`
	Notes           string              `json:"notes,omitempty"`
	Items           []ItemRequest       `json:"items"`
}

// PaymentResult reports the running received amount and the status the
// payment left the order in.
type PaymentResult struct {
	ReceivedAmount decimal.Decimal      `json:"received_amount"`
	Status         models.OrderStatus   `json:"status"`
	Order          *models.HydratedOrder `json:"order"`
}

// transitions is the allowed status graph. Cancelled is reachable from any
// non-terminal state; delivered additionally requires the payment guard.
var transitions = map[models.OrderStatus][]models.OrderStatus{
	models.OrderPending:   {models.OrderPreparing, models.OrderCancelled},
	models.OrderPreparing: {models.OrderReady, models.OrderCancelled},
	models.OrderReady:     {models.OrderDelivered, models.OrderCancelled},
}

func transitionAllowed(from, to models.OrderStatus) bool {
	for _, t := range transitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

type OrderService struct {
	Store     Store
	Publisher Publisher
	Logger    *logger.Logger
}

func NewOrderService(store Store, publisher Publisher, log *logger.Logger) *OrderService {
	return &OrderService{Store: store, Publisher: publisher, Logger: log}
}

// Create opens a new order in status pending with prices captured from the
// catalog. A table-mode order occupies its table in the same transaction.
func (s *OrderService) Create(ctx context.Context, tenantID string, actor models.Actor, req CreateRequest) (*models.HydratedOrder, error) {
	if err := auth.Require(auth.OpOrderCreate, actor); err != nil {
		return nil, err
	}
	if len(req.Items) == 0 {
		return nil, apperr.Validation("order needs at least one line item")
	}
	switch req.Mode {
	case models.DeliveryTable:
		if req.TableID == "" {
			return nil, apperr.Validation("table-mode order needs a table id")
		}
	case models.DeliveryCourier:
		if req.DeliveryAddress == "" {
			return nil, apperr.Validation("delivery-mode order needs a delivery address")
		}
	case models.DeliveryCounter:
	default:
		return nil, apperr.Validation("unknown delivery mode " + string(req.Mode))
	}
	for _, item := range req.Items {
		if item.Quantity <= 0 {
			return nil, apperr.Validation("item quantity must be positive")
		}
		for _, addon := range item.Addons {
			if addon.Quantity <= 0 {
				return nil, apperr.Validation("addon quantity must be positive")
			}
		}
	}

	o := &models.Order{
		ID:              utils.NewID(),
		TenantID:        tenantID,
		Mode:            req.Mode,
		Status:          models.OrderPending,
		ReceivedAmount:  decimal.Zero,
		TableID:         req.TableID,
		CustomerID:      req.CustomerID,
		CustomerName:    req.CustomerName,
		DeliveryAddress: req.DeliveryAddress,
		Notes:           req.Notes,
		CreatedAt:       time.Now(),
	}

	var occupiedTable *models.Table
	err := s.Store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		number, err := tx.NextOrderNumber(ctx, tenantID, o.CreatedAt)
		if err != nil {
			return err
		}
		o.Number = number

		items, addons, total, err := s.captureItems(ctx, tx, tenantID, o.ID, req.Items)
		if err != nil {
			return err
		}
		o.TotalAmount = total

		if req.Mode == models.DeliveryTable {
			table, err := tx.TableForUpdate(ctx, tenantID, req.TableID)
			if err != nil {
				return err
			}
			if table.Status != models.TableFree {
				return apperr.Conflict("table " + table.Name + " is not free")
			}
			if err := tx.OccupyTable(ctx, table, o.ID); err != nil {
				return err
			}
			occupiedTable = table
		}

		if err := tx.InsertOrder(ctx, o); err != nil {
			return err
		}
		return tx.InsertLineItems(ctx, items, addons)
	})
	if err != nil {
		return nil, err
	}

	hydrated, err := s.Store.HydratedOrder(ctx, tenantID, o.ID)
	if err != nil {
		return nil, apperr.Internal("order created but could not be loaded", err)
	}

	s.Logger.LogOrder("CREATE", o.ID, fmt.Sprintf("number=%d total=%s mode=%s", o.Number, o.TotalAmount, o.Mode))
	s.Publisher.OrderCreated(tenantID, hydrated)
	if occupiedTable != nil {
		s.Publisher.TableUpdated(tenantID, occupiedTable)
	}
	return hydrated, nil
}

// AddItems appends line items to a non-terminal order and recomputes the
// total. Received amount and status are untouched. A linked table that
// drifted back to free is re-occupied.
func (s *OrderService) AddItems(ctx context.Context, tenantID string, actor models.Actor, orderID string, newItems []ItemRequest) (*models.HydratedOrder, error) {
	if err := auth.Require(auth.OpOrderAddItems, actor); err != nil {
		return nil, err
	}
	if len(newItems) == 0 {
		return nil, apperr.Validation("no items to add")
	}
	for _, item := range newItems {
		if item.Quantity <= 0 {
			return nil, apperr.Validation("item quantity must be positive")
		}
	}

	var reoccupiedTable *models.Table
	err := s.Store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		o, err := tx.OrderForUpdate(ctx, tenantID, orderID)
		if err != nil {
			return err
		}
		if o.Status.Terminal() {
			return apperr.Conflict("order is already " + string(o.Status))
		}

		items, addons, added, err := s.captureItems(ctx, tx, tenantID, o.ID, newItems)
		if err != nil {
			return err
		}
		if err := tx.InsertLineItems(ctx, items, addons); err != nil {
			return err
		}

		o.TotalAmount = o.TotalAmount.Add(added)
		o.UpdatedAt = time.Now()
		if err := tx.UpdateOrder(ctx, o); err != nil {
			return err
		}

		if o.TableID != "" {
			table, err := tx.TableForUpdate(ctx, tenantID, o.TableID)
			if err != nil {
				return err
			}
			if table.Status == models.TableFree {
				if err := tx.OccupyTable(ctx, table, o.ID); err != nil {
					return err
				}
				reoccupiedTable = table
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	hydrated, err := s.Store.HydratedOrder(ctx, tenantID, orderID)
	if err != nil {
		return nil, apperr.Internal("order updated but could not be loaded", err)
	}

	s.Logger.LogOrder("ADD_ITEMS", orderID, fmt.Sprintf("new total=%s", hydrated.TotalAmount))
	s.Publisher.OrderUpdated(tenantID, hydrated)
	if reoccupiedTable != nil {
		s.Publisher.TableUpdated(tenantID, reoccupiedTable)
	}
	return hydrated, nil
}

// RegisterPayment appends a payment and settles the order once the received
// amount reaches the method-discounted total. On settle the order moves to
// delivered, received resets to zero and a linked table is freed.
func (s *OrderService) RegisterPayment(ctx context.Context, tenantID string, actor models.Actor, orderID string, amount decimal.Decimal, methodID, note string) (*PaymentResult, error) {
	if err := auth.Require(auth.OpOrderPay, actor); err != nil {
		return nil, err
	}
	if !amount.IsPositive() {
		return nil, apperr.Validation("payment amount must be positive")
	}
	if methodID == "" {
		return nil, apperr.Validation("payment method is required")
	}

	var (
		result     PaymentResult
		freedTable *models.Table
	)
	err := s.Store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		o, err := tx.OrderForUpdate(ctx, tenantID, orderID)
		if err != nil {
			return err
		}
		if o.Status.Terminal() {
			return apperr.Conflict("order is already " + string(o.Status))
		}

		method, err := tx.PaymentMethod(ctx, tenantID, methodID)
		if err != nil {
			return err
		}
		discountedTotal := method.DiscountedTotal(o.TotalAmount)

		if err := tx.AppendPayment(ctx, &models.Payment{
			TenantID:        tenantID,
			OrderID:         o.ID,
			PaymentMethodID: method.ID,
			Amount:          amount,
			Note:            note,
		}); err != nil {
			return err
		}

		received := o.ReceivedAmount.Add(amount)
		if received.GreaterThanOrEqual(discountedTotal) {
			// Settled. Received resets to zero; overpayment is change
			// handed back, the ledger keeps what was actually paid.
			o.Status = models.OrderDelivered
			o.ReceivedAmount = decimal.Zero
			if o.TableID != "" {
				table, err := tx.TableForUpdate(ctx, tenantID, o.TableID)
				if err != nil {
					return err
				}
				if err := tx.FreeTable(ctx, table); err != nil {
					return err
				}
				freedTable = table
			}
		} else {
			o.ReceivedAmount = received
		}
		o.UpdatedAt = time.Now()
		if err := tx.UpdateOrder(ctx, o); err != nil {
			return err
		}

		result.ReceivedAmount = o.ReceivedAmount
		result.Status = o.Status
		return nil
	})
	if err != nil {
		return nil, err
	}

	hydrated, err := s.Store.HydratedOrder(ctx, tenantID, orderID)
	if err != nil {
		return nil, apperr.Internal("payment recorded but order could not be loaded", err)
	}
	result.Order = hydrated

	s.Logger.LogOrder("PAYMENT", orderID, fmt.Sprintf("amount=%s status=%s", amount, result.Status))
	if result.Status == models.OrderDelivered {
		s.Publisher.OrderFinalized(tenantID, hydrated)
	} else {
		s.Publisher.OrderUpdated(tenantID, hydrated)
	}
	if freedTable != nil {
		s.Publisher.TableUpdated(tenantID, freedTable)
	}
	return &result, nil
}

// SetStatus applies a transition from the status graph. Moving into
// delivered is rejected while the ledgered payments stay below the
// discounted total. Privileged roles may force a transition the graph
// disallows; the payment guard holds even then.
func (s *OrderService) SetStatus(ctx context.Context, tenantID string, actor models.Actor, orderID string, target models.OrderStatus, force bool) (*models.HydratedOrder, error) {
	if err := auth.Require(auth.OpOrderSetStatus, actor); err != nil {
		return nil, err
	}
	if force {
		if err := auth.Require(auth.OpOrderForceStatus, actor); err != nil {
			return nil, err
		}
	}
	switch target {
	case models.OrderPending, models.OrderPreparing, models.OrderReady, models.OrderDelivered, models.OrderCancelled:
	default:
		return nil, apperr.Validation("unknown status " + string(target))
	}

	var freedTable *models.Table
	err := s.Store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		o, err := tx.OrderForUpdate(ctx, tenantID, orderID)
		if err != nil {
			return err
		}
		if o.Status.Terminal() {
			return apperr.Conflict("order is already " + string(o.Status))
		}
		if !transitionAllowed(o.Status, target) && !force {
			return apperr.Conflict(fmt.Sprintf("cannot move order from %s to %s", o.Status, target))
		}

		if target == models.OrderDelivered {
			pct, err := tx.HighestDiscountPct(ctx, tenantID, o.ID)
			if err != nil {
				return err
			}
			due := (&models.PaymentMethod{DiscountPct: pct}).DiscountedTotal(o.TotalAmount)
			paid, err := tx.PaymentsTotal(ctx, tenantID, o.ID)
			if err != nil {
				return err
			}
			if paid.LessThan(due) {
				return apperr.Conflict("order is not fully paid, register the remaining payment instead")
			}
		}

		o.Status = target
		if target == models.OrderDelivered {
			o.ReceivedAmount = decimal.Zero
		}
		o.UpdatedAt = time.Now()
		if err := tx.UpdateOrder(ctx, o); err != nil {
			return err
		}

		if target.Terminal() && o.TableID != "" {
			table, err := tx.TableForUpdate(ctx, tenantID, o.TableID)
			if err != nil {
				return err
			}
			if err := tx.FreeTable(ctx, table); err != nil {
				return err
			}
			freedTable = table
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	hydrated, err := s.Store.HydratedOrder(ctx, tenantID, orderID)
	if err != nil {
		return nil, apperr.Internal("status updated but order could not be loaded", err)
	}

	s.Logger.LogOrder("SET_STATUS", orderID, string(target))
	if target.Terminal() {
		s.Publisher.OrderFinalized(tenantID, hydrated)
	} else {
		s.Publisher.OrderUpdated(tenantID, hydrated)
	}
	if freedTable != nil {
		s.Publisher.TableUpdated(tenantID, freedTable)
	}
	return hydrated, nil
}

// Delete removes an order and everything it owns. Administrative only.
func (s *OrderService) Delete(ctx context.Context, tenantID string, actor models.Actor, orderID string) error {
	if err := auth.Require(auth.OpOrderDelete, actor); err != nil {
		return err
	}

	hydrated, err := s.Store.HydratedOrder(ctx, tenantID, orderID)
	if err != nil {
		return err
	}

	var freedTable *models.Table
	err = s.Store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		o, err := tx.OrderForUpdate(ctx, tenantID, orderID)
		if err != nil {
			return err
		}
		if o.TableID != "" {
			table, err := tx.TableForUpdate(ctx, tenantID, o.TableID)
			if err != nil {
				return err
			}
			// A settled order keeps its table id; the table may since be
			// occupied by a newer order and must stay that way.
			if table.OrderID == o.ID {
				if err := tx.FreeTable(ctx, table); err != nil {
					return err
				}
				freedTable = table
			}
		}
		return tx.DeleteOrder(ctx, tenantID, orderID)
	})
	if err != nil {
		return err
	}

	s.Logger.LogOrder("DELETE", orderID, "order removed")
	s.Publisher.OrderFinalized(tenantID, hydrated)
	if freedTable != nil {
		s.Publisher.TableUpdated(tenantID, freedTable)
	}
	return nil
}

func (s *OrderService) Get(ctx context.Context, tenantID, orderID string) (*models.HydratedOrder, error) {
	return s.Store.HydratedOrder(ctx, tenantID, orderID)
}

func (s *OrderService) List(ctx context.Context, tenantID string, filter ListFilter) ([]models.HydratedOrder, error) {
	return s.Store.ListOrders(ctx, tenantID, filter)
}

// captureItems resolves products and freezes their current prices into line
// item and addon rows.
func (s *OrderService) captureItems(ctx context.Context, tx Tx, tenantID, orderID string, reqs []ItemRequest) ([]models.OrderLineItem, []models.LineItemAddon, decimal.Decimal, error) {
	var (
		items  []models.OrderLineItem
		addons []models.LineItemAddon
		total  = decimal.Zero
	)
	for _, req := range reqs {
		product, err := tx.Product(ctx, tenantID, req.ProductID)
		if err != nil {
			return nil, nil, decimal.Zero, err
		}
		item := models.OrderLineItem{
			ID:        utils.NewID(),
			OrderID:   orderID,
			ProductID: product.ID,
			Name:      product.Name,
			Quantity:  req.Quantity,
			UnitPrice: product.Price,
			Note:      req.Note,
		}
		items = append(items, item)
		total = total.Add(item.LineTotal())

		for _, addonReq := range req.Addons {
			addonProduct, err := tx.Product(ctx, tenantID, addonReq.ProductID)
			if err != nil {
				return nil, nil, decimal.Zero, err
			}
			addon := models.LineItemAddon{
				ID:         utils.NewID(),
				LineItemID: item.ID,
				OrderID:    orderID,
				ProductID:  addonProduct.ID,
				Name:       addonProduct.Name,
				Quantity:   addonReq.Quantity,
				UnitPrice:  addonProduct.Price,
			}
			addons = append(addons, addon)
			total = total.Add(addon.LineTotal())
		}
	}
	return items, addons, total, nil
}

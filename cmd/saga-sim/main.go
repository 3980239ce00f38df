// saga-sim runs the order, stock and notification services in one process
// over in-memory stores and an in-memory bus, places a few orders and prints
// where each saga ended up.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"text/tabwriter"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/prudhivi99/minisys-saga/internal/consumer"
	"github.com/prudhivi99/minisys-saga/internal/db/memory"
	"github.com/prudhivi99/minisys-saga/internal/logging"
	"github.com/prudhivi99/minisys-saga/internal/models"
	"github.com/prudhivi99/minisys-saga/internal/notify"
	"github.com/prudhivi99/minisys-saga/internal/outbox"
	"github.com/prudhivi99/minisys-saga/internal/publisher"
	"github.com/prudhivi99/minisys-saga/internal/service"
	"github.com/prudhivi99/minisys-saga/internal/store"
)

type system struct {
	bus           *publisher.InMemoryBus
	dispatchers   []*outbox.Dispatcher
	orders        *service.OrderService
	stock         *service.StockService
	notifications *service.NotificationService
}

func newSystem(log *zap.Logger, blocked ...string) *system {
	bus := publisher.NewInMemoryBus(log)
	orderOutbox, stockOutbox, notifOutbox := memory.NewOutbox(), memory.NewOutbox(), memory.NewOutbox()

	s := &system{
		bus:    bus,
		orders: service.NewOrderService(memory.NewOrderStore(orderOutbox), log.Named("order")),
		stock:  service.NewStockService(memory.NewStockStore(stockOutbox), log.Named("stock")),
		notifications: service.NewNotificationService(memory.NewNotificationStore(notifOutbox),
			notify.NewLogSender(log.Named("sender"), blocked...), log.Named("notification")),
	}

	nc := consumer.NewNotificationConsumer(s.notifications, log)
	bus.Subscribe(consumer.NewStockConsumer(s.stock, log).Listener(nil))
	bus.Subscribe(consumer.NewOrderConsumer(s.orders, log).Listener(nil))
	bus.Subscribe(nc.EmailListener(nil))
	bus.Subscribe(nc.SmsListener(nil))

	s.dispatchers = []*outbox.Dispatcher{
		outbox.NewDispatcher(orderOutbox, publisher.NewRegistry(
			bus.Publisher(models.ExchangeStockEvents),
			bus.Publisher(models.ExchangeOrderEvents)), outbox.Config{}, nil, log),
		outbox.NewDispatcher(stockOutbox, publisher.NewRegistry(
			bus.Publisher(models.ExchangeStockEvents)), outbox.Config{}, nil, log),
		outbox.NewDispatcher(notifOutbox, publisher.NewRegistry(
			bus.Publisher(models.ExchangeNotificationEvents)), outbox.Config{}, nil, log),
	}
	return s
}

// settle relays every outbox and drains the bus until nothing moves.
func (s *system) settle(ctx context.Context) error {
	for round := 0; round < 50; round++ {
		moved := 0
		for _, d := range s.dispatchers {
			res, err := d.ProcessOnce(ctx)
			if err != nil {
				return err
			}
			moved += res.Published
		}
		moved += s.bus.Drain(ctx)
		if moved == 0 {
			return nil
		}
	}
	return fmt.Errorf("system did not settle")
}

func line(pid string, qty int, price string) service.OrderLineInput {
	return service.OrderLineInput{
		ProductID:   pid,
		ProductName: pid,
		UnitPrice:   decimal.RequireFromString(price),
		Quantity:    qty,
	}
}

func run(ctx context.Context, log *zap.Logger) error {
	s := newSystem(log, "blocked@example.com")

	for pid, qty := range map[string]int{"KEYBOARD": 10, "MOUSE": 3, "MONITOR": 1} {
		if _, err := s.stock.CreateStock(ctx, pid, qty); err != nil {
			return err
		}
	}

	inputs := []service.CreateOrderInput{
		{CustomerID: "alice", CustomerEmail: "alice@example.com",
			Lines: []service.OrderLineInput{line("KEYBOARD", 2, "49.99"), line("MOUSE", 1, "19.50")}},
		{CustomerID: "bob", CustomerEmail: "bob@example.com",
			Lines: []service.OrderLineInput{line("MOUSE", 1, "19.50"), line("MONITOR", 5, "199.00")}},
		{CustomerID: "carol", CustomerEmail: "blocked@example.com",
			Lines: []service.OrderLineInput{line("MONITOR", 1, "199.00")}},
		{CustomerID: "dave", CustomerEmail: "dave@example.com",
			Lines: []service.OrderLineInput{line("KEYBOARD", 3, "49.99")}},
	}
	var last *models.Order
	for _, in := range inputs {
		order, err := s.orders.CreateOrder(ctx, in)
		if err != nil {
			return err
		}
		last = order
	}
	// dave changes his mind; the keyboards go back on the shelf
	if _, err := s.orders.CancelOrder(ctx, last.ID, "customer request"); err != nil {
		return err
	}
	if _, err := s.notifications.CreateSms(ctx, "+15550100", "Your order is on its way"); err != nil {
		return err
	}

	if err := s.settle(ctx); err != nil {
		return err
	}
	return s.report(ctx)
}

func (s *system) report(ctx context.Context) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)

	orders, err := s.orders.ListOrders(ctx, store.OrderFilter{PageSize: 100})
	if err != nil {
		return err
	}
	fmt.Fprintln(w, "ORDER\tCUSTOMER\tSTATUS\tTOTAL\tNOTES")
	for _, o := range orders.Items {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s %s\t%s\n",
			o.ID, o.CustomerID, o.Status, o.TotalAmount.Amount.StringFixed(2), o.TotalAmount.Currency, o.Notes)
	}

	stocks, err := s.stock.ListStocks(ctx, store.StockFilter{PageSize: 100})
	if err != nil {
		return err
	}
	fmt.Fprintln(w, "\nPRODUCT\tQUANTITY\tRESERVED\tAVAILABLE")
	for _, st := range stocks.Items {
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\n", st.ProductID, st.Quantity, st.ReservedQuantity, st.AvailableQuantity())
	}

	notifications, err := s.notifications.ListNotifications(ctx, store.NotificationFilter{PageSize: 100})
	if err != nil {
		return err
	}
	fmt.Fprintln(w, "\nNOTIFICATION\tCHANNEL\tRECIPIENT\tSTATUS")
	for _, n := range notifications.Items {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", n.ID, n.Channel, n.Recipient, n.Status)
	}

	fmt.Fprintf(w, "\nDEAD LETTERS\t%d\n", len(s.bus.DeadLetters()))
	return w.Flush()
}

func main() {
	level := flag.String("log-level", "warn", "log level")
	flag.Parse()

	logger, err := logging.New("saga-sim", *level, "console")
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	if err := run(context.Background(), logger); err != nil {
		logger.Fatal("❌ Simulation failed", zap.Error(err))
	}
}

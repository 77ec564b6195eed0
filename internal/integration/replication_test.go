//go:build integration
// +build integration

package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/andreasstove999/ecommerce-system/product-sync/internal/bus"
	"github.com/andreasstove999/ecommerce-system/product-sync/internal/catalog"
	"github.com/andreasstove999/ecommerce-system/product-sync/internal/config"
	"github.com/andreasstove999/ecommerce-system/product-sync/internal/db"
	"github.com/andreasstove999/ecommerce-system/product-sync/internal/events"
	httpapi "github.com/andreasstove999/ecommerce-system/product-sync/internal/http"
	"github.com/andreasstove999/ecommerce-system/product-sync/internal/stock"
)

func TestReplicationOverKafka(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	shopDSN, warehouseDSN := startPostgres(ctx, t)
	brokers := startKafka(ctx, t)

	runScenario(ctx, t, shopDSN, warehouseDSN, config.Bus{
		Driver:          config.BusKafka,
		KafkaBrokers:    brokers,
		KafkaConsumers:  2,
		KafkaPartitions: 3,
		ConsumerGroup:   config.DefaultConsumerGroup,
		PublishTimeout:  10 * time.Second,
	})
}

func TestReplicationOverRabbitMQ(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	shopDSN, warehouseDSN := startPostgres(ctx, t)
	rabbitURL := startRabbitMQ(ctx, t)

	runScenario(ctx, t, shopDSN, warehouseDSN, config.Bus{
		Driver:         config.BusRabbitMQ,
		RabbitURL:      rabbitURL,
		ConsumerGroup:  config.DefaultConsumerGroup,
		PublishTimeout: 5 * time.Second,
	})
}

func runScenario(ctx context.Context, t *testing.T, shopDSN, warehouseDSN string, busCfg config.Bus) {
	t.Helper()

	logger := zaptest.NewLogger(t, zaptest.Level(zap.WarnLevel))
	require.NoError(t, db.RunMigrations(shopDSN, db.ShopMigrations, logger))
	require.NoError(t, db.RunMigrations(warehouseDSN, db.WarehouseMigrations, logger))

	app := startPeers(ctx, t, shopDSN, warehouseDSN, busCfg, logger)
	client := &http.Client{Timeout: 5 * time.Second}

	// Create round trip: the warehouse registers id 1 at zero and the shop follows.
	created := doJSON(ctx, t, client, http.MethodPost, app.shopURL+"/products",
		`{"name":"Test Product","productTypeDTO":"OTHER","expirationDate":"2002-02-18","quantity":5}`, http.StatusCreated)
	id := int64(created["id"].(float64))
	require.Equal(t, "Test Product", created["name"])

	waitForShopQuantity(ctx, t, client, app.shopURL, id, 0)
	require.Equal(t, float64(0), doJSON(ctx, t, client, http.MethodGet, fmt.Sprintf("%s/inventory/%d", app.warehouseURL, id), "", http.StatusOK)["quantity"])

	// Unknown id.
	doJSON(ctx, t, client, http.MethodGet, app.shopURL+"/products/999", "", http.StatusNotFound)

	// A warehouse adjustment reaches the shop.
	doJSON(ctx, t, client, http.MethodPut, fmt.Sprintf("%s/inventory/%d", app.warehouseURL, id), `{"quantity":12}`, http.StatusOK)
	waitForShopQuantity(ctx, t, client, app.shopURL, id, 12)

	// A shop update stays local.
	doJSON(ctx, t, client, http.MethodPut, fmt.Sprintf("%s/products/%d", app.shopURL, id),
		`{"name":"Updated","productTypeDTO":"FRUITS","expirationDate":"2023-12-31","quantity":7}`, http.StatusOK)
	require.Equal(t, float64(12), doJSON(ctx, t, client, http.MethodGet, fmt.Sprintf("%s/inventory/%d", app.warehouseURL, id), "", http.StatusOK)["quantity"])

	// A second product exercises list order and a later delete.
	second := doJSON(ctx, t, client, http.MethodPost, app.shopURL+"/products",
		`{"name":"Product 2","productTypeDTO":"DAIRY","expirationDate":"2024-01-31"}`, http.StatusCreated)
	secondID := int64(second["id"].(float64))
	waitForShopQuantity(ctx, t, client, app.shopURL, secondID, 0)

	list := getList(ctx, t, client, app.shopURL)
	require.Len(t, list, 2)
	require.Equal(t, "Updated", list[0]["name"])
	require.Equal(t, "Product 2", list[1]["name"])

	// Status for a deleted product is dropped; the consumer keeps going.
	doJSON(ctx, t, client, http.MethodDelete, fmt.Sprintf("%s/products/%d", app.shopURL, id), "", http.StatusNoContent)
	doJSON(ctx, t, client, http.MethodPut, fmt.Sprintf("%s/inventory/%d", app.warehouseURL, id), `{"quantity":3}`, http.StatusOK)
	doJSON(ctx, t, client, http.MethodPut, fmt.Sprintf("%s/inventory/%d", app.warehouseURL, secondID), `{"quantity":9}`, http.StatusOK)
	waitForShopQuantity(ctx, t, client, app.shopURL, secondID, 9)
	doJSON(ctx, t, client, http.MethodGet, fmt.Sprintf("%s/products/%d", app.shopURL, id), "", http.StatusNotFound)
}

type peers struct {
	shopURL      string
	warehouseURL string
}

func startPeers(ctx context.Context, t *testing.T, shopDSN, warehouseDSN string, busCfg config.Bus, logger *zap.Logger) *peers {
	t.Helper()

	shopPool, err := db.NewPool(ctx, shopDSN)
	require.NoError(t, err)
	warehousePool, err := db.NewPool(ctx, warehouseDSN)
	require.NoError(t, err)

	topics := []string{events.TopicStoreControl, events.TopicStoreStatus}
	shopBus, err := bus.Open(ctx, busCfg, logger.Named("shop"), topics...)
	require.NoError(t, err)
	warehouseBus, err := bus.Open(ctx, busCfg, logger.Named("warehouse"), topics...)
	require.NoError(t, err)

	repo := catalog.NewPostgresRepository(shopPool)
	products := catalog.NewService(repo, events.NewPublisher(shopBus, "shop-service", busCfg.PublishTimeout), logger)
	inventory := stock.NewService(stock.NewPostgresRepository(warehousePool),
		events.NewPublisher(warehouseBus, "warehouse-service", busCfg.PublishTimeout), logger)

	serviceCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{}, 2)
	go func() {
		defer func() { done <- struct{}{} }()
		if err := shopBus.Subscribe(serviceCtx, events.TopicStoreStatus, busCfg.ConsumerGroup, events.StoreStatusHandler(repo, logger)); err != nil {
			t.Logf("shop consumer: %v", err)
		}
	}()
	go func() {
		defer func() { done <- struct{}{} }()
		if err := warehouseBus.Subscribe(serviceCtx, events.TopicStoreControl, busCfg.ConsumerGroup, events.StoreControlHandler(inventory, logger)); err != nil {
			t.Logf("warehouse consumer: %v", err)
		}
	}()

	shopSrv := httptest.NewServer(httpapi.NewShopRouter(httpapi.NewProductHandler(products, logger), logger))
	warehouseSrv := httptest.NewServer(httpapi.NewWarehouseRouter(httpapi.NewInventoryHandler(inventory, logger), logger))

	t.Cleanup(func() {
		shopSrv.Close()
		warehouseSrv.Close()
		cancel()
		<-done
		<-done
		_ = shopBus.Close()
		_ = warehouseBus.Close()
		shopPool.Close()
		warehousePool.Close()
	})

	return &peers{shopURL: shopSrv.URL, warehouseURL: warehouseSrv.URL}
}

func doJSON(ctx context.Context, t *testing.T, client *http.Client, method, url, body string, wantStatus int) map[string]any {
	t.Helper()

	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, wantStatus, resp.StatusCode, "%s %s", method, url)

	out := map[string]any{}
	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return out
}

func getList(ctx context.Context, t *testing.T, client *http.Client, shopURL string) []map[string]any {
	t.Helper()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, shopURL+"/products", nil)
	require.NoError(t, err)
	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func waitForShopQuantity(ctx context.Context, t *testing.T, client *http.Client, shopURL string, id int64, expected int32) {
	t.Helper()

	pollCtx, cancel := context.WithTimeout(ctx, 45*time.Second)
	defer cancel()

	backoff := 50 * time.Millisecond
	for {
		select {
		case <-pollCtx.Done():
			t.Fatalf("timed out waiting for product %d quantity %d: %v", id, expected, pollCtx.Err())
		default:
		}

		req, err := http.NewRequestWithContext(pollCtx, http.MethodGet, fmt.Sprintf("%s/products/%d", shopURL, id), nil)
		require.NoError(t, err)
		resp, err := client.Do(req)
		if err == nil {
			var p struct {
				Quantity int32 `json:"quantity"`
			}
			ok := resp.StatusCode == http.StatusOK && json.NewDecoder(resp.Body).Decode(&p) == nil
			resp.Body.Close()
			if ok && p.Quantity == expected {
				return
			}
		}

		time.Sleep(backoff)
		if backoff < time.Second {
			backoff *= 2
			if backoff > time.Second {
				backoff = time.Second
			}
		}
	}
}

package connection

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sirupsen/logrus"

	"github.com/questforge/questforge/internal/config"
	"github.com/questforge/questforge/pkg/utils"
)

// Manager defines the chain connection manager interface
type Manager interface {
	GetClient(ctx context.Context) (*ethclient.Client, error)
	HealthCheck(ctx context.Context) error
	GetNetworkID(ctx context.Context) (uint64, error)
	GetLatestBlockNumber(ctx context.Context) (uint64, error)
	IsConnected() bool
	Close() error
	Stats() Stats
}

// Stats holds connection statistics
type Stats struct {
	TotalRequests   uint64    `json:"total_requests"`
	FailedRequests  uint64    `json:"failed_requests"`
	Reconnects      uint64    `json:"reconnects"`
	CurrentURL      string    `json:"current_url"`
	LastConnectedAt time.Time `json:"last_connected_at"`
	LastHealthCheck time.Time `json:"last_health_check"`
	IsHealthy       bool      `json:"is_healthy"`
	NetworkID       uint64    `json:"network_id"`
	LatestBlock     uint64    `json:"latest_block"`
}

// ConnectionManager implements Manager over one primary node URL plus
// backups, reconnecting and failing over as needed.
type ConnectionManager struct {
	config *config.ChainConfig
	logger *logrus.Entry

	mu              sync.Mutex
	client          *ethclient.Client
	stats           Stats
	lastHealthCheck time.Time
	isHealthy       bool
}

// NewConnectionManager creates a new connection manager
func NewConnectionManager(cfg *config.ChainConfig) *ConnectionManager {
	return &ConnectionManager{
		config: cfg,
		logger: utils.ComponentLogger("connection"),
		stats:  Stats{CurrentURL: cfg.NodeURL},
	}
}

// GetClient returns the current client, dialing if necessary
func (cm *ConnectionManager) GetClient(ctx context.Context) (*ethclient.Client, error) {
	cm.mu.Lock()
	client := cm.client
	stale := time.Since(cm.lastHealthCheck) > time.Minute
	cm.mu.Unlock()

	if client == nil {
		return cm.connect(ctx)
	}

	if stale {
		if err := cm.quickHealthCheck(ctx, client); err != nil {
			cm.logger.WithError(err).Warn("Client health check failed, reconnecting")
			return cm.reconnect(ctx)
		}
		cm.mu.Lock()
		cm.lastHealthCheck = time.Now()
		cm.mu.Unlock()
	}

	cm.mu.Lock()
	cm.stats.TotalRequests++
	cm.mu.Unlock()
	return client, nil
}

// connect establishes a new connection, walking primary then backup URLs
func (cm *ConnectionManager) connect(ctx context.Context) (*ethclient.Client, error) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	urls := append([]string{cm.config.NodeURL}, cm.config.BackupNodes...)

	for attempt := 0; attempt < cm.config.RetryAttempts; attempt++ {
		for _, url := range urls {
			cm.logger.WithFields(logrus.Fields{"url": url, "attempt": attempt + 1}).Debug("Attempting connection")

			client, err := cm.dialWithTimeout(ctx, url)
			if err != nil {
				cm.logger.WithError(err).WithField("url", url).Warn("Connection failed")
				cm.stats.FailedRequests++
				continue
			}

			if err := cm.quickHealthCheck(ctx, client); err != nil {
				client.Close()
				cm.logger.WithError(err).WithField("url", url).Warn("Health check failed after connect")
				continue
			}

			cm.client = client
			cm.stats.CurrentURL = url
			cm.stats.LastConnectedAt = time.Now()
			cm.isHealthy = true
			cm.lastHealthCheck = time.Now()

			cm.logger.WithField("url", url).Info("Connected to chain node")
			return client, nil
		}

		if attempt < cm.config.RetryAttempts-1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(cm.config.RetryDelay):
			}
		}
	}

	return nil, utils.NewAppError(utils.ErrCodeConnection, "Failed to connect to any chain node",
		"all connection attempts exhausted")
}

// reconnect drops the current client and dials again
func (cm *ConnectionManager) reconnect(ctx context.Context) (*ethclient.Client, error) {
	cm.mu.Lock()
	if cm.client != nil {
		cm.client.Close()
		cm.client = nil
	}
	cm.stats.Reconnects++
	cm.mu.Unlock()

	return cm.connect(ctx)
}

func (cm *ConnectionManager) dialWithTimeout(ctx context.Context, url string) (*ethclient.Client, error) {
	dialCtx, cancel := context.WithTimeout(ctx, cm.config.RequestTimeout)
	defer cancel()
	return ethclient.DialContext(dialCtx, url)
}

func (cm *ConnectionManager) quickHealthCheck(ctx context.Context, client *ethclient.Client) error {
	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	_, err := client.NetworkID(checkCtx)
	return err
}

// HealthCheck verifies network identity and head availability
func (cm *ConnectionManager) HealthCheck(ctx context.Context) error {
	client, err := cm.GetClient(ctx)
	if err != nil {
		cm.setHealthy(false)
		return err
	}

	networkID, err := client.NetworkID(ctx)
	if err != nil {
		cm.setHealthy(false)
		return utils.NewAppError(utils.ErrCodeConnection, "Failed to get network ID", err.Error())
	}

	if cm.config.NetworkID > 0 && networkID.Uint64() != uint64(cm.config.NetworkID) {
		cm.setHealthy(false)
		return utils.NewAppError(utils.ErrCodeConnection, "Network ID mismatch",
			fmt.Sprintf("expected %d, got %d", cm.config.NetworkID, networkID.Uint64()))
	}

	blockNumber, err := client.BlockNumber(ctx)
	if err != nil {
		cm.setHealthy(false)
		return utils.NewAppError(utils.ErrCodeConnection, "Failed to get latest block", err.Error())
	}

	cm.mu.Lock()
	cm.stats.NetworkID = networkID.Uint64()
	cm.stats.LatestBlock = blockNumber
	cm.stats.LastHealthCheck = time.Now()
	cm.stats.IsHealthy = true
	cm.lastHealthCheck = time.Now()
	cm.isHealthy = true
	cm.mu.Unlock()

	return nil
}

// GetNetworkID returns the chain's network ID
func (cm *ConnectionManager) GetNetworkID(ctx context.Context) (uint64, error) {
	client, err := cm.GetClient(ctx)
	if err != nil {
		return 0, err
	}
	networkID, err := client.NetworkID(ctx)
	if err != nil {
		return 0, utils.NewAppError(utils.ErrCodeConnection, "Failed to get network ID", err.Error())
	}
	return networkID.Uint64(), nil
}

// GetLatestBlockNumber returns the current chain head number
func (cm *ConnectionManager) GetLatestBlockNumber(ctx context.Context) (uint64, error) {
	client, err := cm.GetClient(ctx)
	if err != nil {
		return 0, err
	}
	blockNumber, err := client.BlockNumber(ctx)
	if err != nil {
		return 0, utils.NewAppError(utils.ErrCodeConnection, "Failed to get block number", err.Error())
	}

	cm.mu.Lock()
	cm.stats.LatestBlock = blockNumber
	cm.mu.Unlock()
	return blockNumber, nil
}

// IsConnected reports whether a healthy client is held
func (cm *ConnectionManager) IsConnected() bool {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return cm.client != nil && cm.isHealthy
}

// Close shuts down the connection
func (cm *ConnectionManager) Close() error {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if cm.client != nil {
		cm.client.Close()
		cm.client = nil
	}
	cm.isHealthy = false
	return nil
}

// Stats returns a snapshot of connection statistics
func (cm *ConnectionManager) Stats() Stats {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return cm.stats
}

func (cm *ConnectionManager) setHealthy(healthy bool) {
	cm.mu.Lock()
	cm.isHealthy = healthy
	cm.stats.IsHealthy = healthy
	cm.mu.Unlock()
}

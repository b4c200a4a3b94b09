package couchbase

import (
	"fmt"
	"strings"
	"time"

	"github.com/couchbase/gocb/v2"
	"github.com/rs/zerolog/log"
)

const (
	clusterReadyTimeout = 30 * time.Second
	bucketReadyTimeout  = 10 * time.Second
)

// ConnectionConfig holds the cluster address, credentials and bucket name
type ConnectionConfig struct {
	URL      string
	Username string
	Password string
	Bucket   string
}

// ConnectionManager handles Couchbase cluster and bucket connections
type ConnectionManager struct {
	cluster *gocb.Cluster
	bucket  *gocb.Bucket
}

// connectionString maps a configured URL onto a gocb connection string.
// http:// addresses and bare hosts are treated as couchbases://.
func connectionString(url string) string {
	switch {
	case strings.HasPrefix(url, "couchbase://"), strings.HasPrefix(url, "couchbases://"):
		return url
	case strings.HasPrefix(url, "http://"):
		return "couchbases://" + strings.TrimPrefix(url, "http://")
	case strings.HasPrefix(url, "https://"):
		return "couchbases://" + strings.TrimPrefix(url, "https://")
	default:
		return "couchbases://" + url
	}
}

// NewConnectionManager connects to the cluster and opens the bucket
func NewConnectionManager(cfg ConnectionConfig) (*ConnectionManager, error) {
	cluster, err := gocb.Connect(connectionString(cfg.URL), gocb.ClusterOptions{
		Authenticator: gocb.PasswordAuthenticator{
			Username: cfg.Username,
			Password: cfg.Password,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to cluster: %w", err)
	}

	if err := cluster.WaitUntilReady(clusterReadyTimeout, nil); err != nil {
		return nil, fmt.Errorf("failed to wait for cluster: %w", err)
	}

	// The bucket must already exist
	bucket := cluster.Bucket(cfg.Bucket)
	if err := bucket.WaitUntilReady(bucketReadyTimeout, nil); err != nil {
		return nil, fmt.Errorf("bucket '%s' is not accessible: %w", cfg.Bucket, err)
	}

	log.Info().Str("bucket", cfg.Bucket).Msg("Connected to Couchbase")

	return &ConnectionManager{
		cluster: cluster,
		bucket:  bucket,
	}, nil
}

// Close closes the Couchbase connection
func (cm *ConnectionManager) Close() error {
	return cm.cluster.Close(nil)
}

// GetBucket returns the bucket instance
func (cm *ConnectionManager) GetBucket() *gocb.Bucket {
	return cm.bucket
}

// GetCluster returns the cluster instance
func (cm *ConnectionManager) GetCluster() *gocb.Cluster {
	return cm.cluster
}

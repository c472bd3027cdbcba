package core

import (
	"context"
	"sync"

	"github.com/oceanbase/memrank-go/pkg/archival"
)

// AsyncClient runs Client operations in goroutines.
//
// Every async method returns a buffered channel that receives exactly one
// result and is then closed. Wait blocks until all started operations have
// finished.
//
// Example:
//
//	asyncClient, _ := core.NewAsyncClient(cfg)
//	defer asyncClient.Close()
//
//	res := <-asyncClient.SaveAsync(ctx, "Use WAL mode", core.WithSpecFolder("specs/042"))
//	if res.Error != nil {
//	    log.Fatal(res.Error)
//	}
type AsyncClient struct {
	*Client
	wg sync.WaitGroup
}

// NewAsyncClient creates a client with NewClient and wraps it.
func NewAsyncClient(cfg *Config) (*AsyncClient, error) {
	client, err := NewClient(cfg)
	if err != nil {
		return nil, err
	}
	return &AsyncClient{Client: client}, nil
}

// WrapAsync wraps an existing client.
func WrapAsync(client *Client) *AsyncClient {
	return &AsyncClient{Client: client}
}

// SaveResultAsync is the outcome of SaveAsync.
type SaveResultAsync struct {
	Result *SaveResult
	Error  error
}

// SearchResultAsync is the outcome of SearchAsync.
type SearchResultAsync struct {
	Result *SearchResult
	Error  error
}

// ScanResultAsync is the outcome of RunArchivalScanAsync.
type ScanResultAsync struct {
	Result archival.ScanResult
	Error  error
}

// SaveAsync runs Save in a goroutine.
func (ac *AsyncClient) SaveAsync(ctx context.Context, content string, opts ...SaveOption) <-chan *SaveResultAsync {
	resultChan := make(chan *SaveResultAsync, 1)
	ac.wg.Add(1)

	go func() {
		defer ac.wg.Done()
		defer close(resultChan)
		res, err := ac.Save(ctx, content, opts...)
		resultChan <- &SaveResultAsync{Result: res, Error: err}
	}()

	return resultChan
}

// SearchAsync runs Search in a goroutine.
func (ac *AsyncClient) SearchAsync(ctx context.Context, query string, opts ...SearchOption) <-chan *SearchResultAsync {
	resultChan := make(chan *SearchResultAsync, 1)
	ac.wg.Add(1)

	go func() {
		defer ac.wg.Done()
		defer close(resultChan)
		res, err := ac.Search(ctx, query, opts...)
		resultChan <- &SearchResultAsync{Result: res, Error: err}
	}()

	return resultChan
}

// RunArchivalScanAsync runs one archival scan in a goroutine. A scan already
// in progress yields archival.ErrScanInProgress.
func (ac *AsyncClient) RunArchivalScanAsync(ctx context.Context) <-chan *ScanResultAsync {
	resultChan := make(chan *ScanResultAsync, 1)
	ac.wg.Add(1)

	go func() {
		defer ac.wg.Done()
		defer close(resultChan)
		res, err := ac.Archival().RunArchivalScan(ctx)
		resultChan <- &ScanResultAsync{Result: res, Error: err}
	}()

	return resultChan
}

// Wait blocks until all asynchronous operations have completed.
func (ac *AsyncClient) Wait() {
	ac.wg.Wait()
}

// Close waits for pending operations, then closes the underlying client.
func (ac *AsyncClient) Close() error {
	ac.Wait()
	return ac.Client.Close()
}

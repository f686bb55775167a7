// cmd/historian/main.go is an asynchronous archival service that drains
// battle action records from the Redis queue and persists them to Postgres.
// It also sweeps battle sessions that went silent without a recorded end.
package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/redis/go-redis/v9"

	"github.com/duel-learn/pvp-service/internal/cache"
	"github.com/duel-learn/pvp-service/internal/database"
)

// HistorianService couples the Redis queue drain with batched Postgres
// inserts and the stale-session sweep.
type HistorianService struct {
	redisClient *redis.Client
	batchSize   int
	flushDelay  time.Duration
	staleAfter  int // seconds without activity before a session counts as abandoned

	batchMu  sync.Mutex
	batch    []database.BattleActionRow
	ctx      context.Context
	cancelFn context.CancelFunc
}

// NewHistorianService constructs the service from environment variables.
func NewHistorianService() *HistorianService {
	batchSize := getEnvInt("HISTORIAN_BATCH_SIZE", 20)
	flushMs := getEnvInt("HISTORIAN_FLUSH_MS", 500)
	staleSec := getEnvInt("BATTLE_INACTIVITY_TIMEOUT_SEC", 600)

	rdb := redis.NewClient(&redis.Options{
		Addr: getEnv("REDIS_ADDR", "localhost:6379"),
		DB:   getEnvInt("REDIS_DB", 0),
	})

	ctx, cancel := context.WithCancel(context.Background())
	return &HistorianService{
		redisClient: rdb,
		batchSize:   batchSize,
		flushDelay:  time.Duration(flushMs) * time.Millisecond,
		staleAfter:  staleSec,
		batch:       make([]database.BattleActionRow, 0, batchSize),
		ctx:         ctx,
		cancelFn:    cancel,
	}
}

// Run connects to Postgres and starts the drain and sweep loops, blocking
// until Stop is called.
func (hs *HistorianService) Run() {
	database.ConnectDB()

	go hs.readRedisLoop()
	go hs.staleSweepLoop()

	log.Println("duel-historian service started.")
	<-hs.ctx.Done()
	hs.flushBatch()
	log.Println("duel-historian shutting down.")
}

// readRedisLoop pops action records with BLPop and accumulates them into the
// batch; the ticker bounds how long a partial batch can sit unflushed.
func (hs *HistorianService) readRedisLoop() {
	ticker := time.NewTicker(hs.flushDelay)
	defer ticker.Stop()

	queueName := getEnv("BATTLE_QUEUE_NAME", cache.DefaultQueueName)

	for {
		select {
		case <-hs.ctx.Done():
			return

		case <-ticker.C:
			hs.flushBatch()

		default:
			res, err := hs.redisClient.BLPop(hs.ctx, 3*time.Second, queueName).Result()
			if err != nil {
				if err != redis.Nil && hs.ctx.Err() == nil {
					log.Printf("[ERROR] BLPop: %v", err)
				}
				continue
			}
			if len(res) < 2 {
				continue
			}

			var record cache.BattleActionRecord
			if err := json.Unmarshal([]byte(res[1]), &record); err != nil {
				log.Printf("invalid action record: %v", err)
				continue
			}
			hs.append(database.BattleActionRow{
				SessionID:   record.SessionID,
				ActionIndex: record.ActionIndex,
				ActorID:     record.ActorID,
				ActionType:  record.ActionType,
				Payload:     record.Payload,
				Timestamp:   record.Timestamp,
			})
		}
	}
}

func (hs *HistorianService) append(row database.BattleActionRow) {
	hs.batchMu.Lock()
	hs.batch = append(hs.batch, row)
	full := len(hs.batch) >= hs.batchSize
	hs.batchMu.Unlock()
	if full {
		hs.flushBatch()
	}
}

// flushBatch writes the accumulated rows in one transaction. Rows carry an
// (session_id, action_index) key, so a crashed flush re-run is harmless.
func (hs *HistorianService) flushBatch() {
	hs.batchMu.Lock()
	if len(hs.batch) == 0 {
		hs.batchMu.Unlock()
		return
	}
	rows := make([]database.BattleActionRow, len(hs.batch))
	copy(rows, hs.batch)
	hs.batch = hs.batch[:0]
	hs.batchMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := database.InsertBattleActions(ctx, rows); err != nil {
		log.Printf("[ERROR] flushBatch: %v", err)
		return
	}
	log.Printf("Flushed %d battle actions to DB.", len(rows))
}

// staleSweepLoop marks sessions abandoned once they have been silent past
// the threshold. This covers server crashes where the in-memory reconnect
// window never fired.
func (hs *HistorianService) staleSweepLoop() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-hs.ctx.Done():
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			n, err := database.MarkStaleSessionsAbandoned(ctx, hs.staleAfter)
			cancel()
			if err != nil {
				log.Printf("[ERROR] stale sweep: %v", err)
				continue
			}
			if n > 0 {
				log.Printf("Marked %d stale battle sessions abandoned.", n)
			}
		}
	}
}

// Stop gracefully stops the historian service.
func (hs *HistorianService) Stop() {
	hs.cancelFn()
}

func main() {
	hs := NewHistorianService()
	go hs.Run()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	hs.Stop()
	log.Println("Historian shutdown complete.")
}

// getEnv retrieves an environment variable's value or returns a default.
func getEnv(key, defVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defVal
}

// getEnvInt parses an environment variable as an integer, else a default.
func getEnvInt(key string, defVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defVal
	}
	return i
}

package container

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"mdstream/internal/application/port"
	kafkabridge "mdstream/internal/infrastructure/bridge/kafka"
	"mdstream/internal/infrastructure/config"
	"mdstream/internal/infrastructure/storage"
	"mdstream/internal/infrastructure/storage/composite"
	pgrepo "mdstream/internal/infrastructure/storage/postgres"
	redisrepo "mdstream/internal/infrastructure/storage/redis"
	sqliterepo "mdstream/internal/infrastructure/storage/sqlite"
)

// Container 持有符号库、最新值存储和总线桥接
type Container struct {
	cfg         *config.Config
	static      *storage.Static
	redisClient *redis.Client
	sqliteRepo  *sqliterepo.Repo
	pgRepo      *pgrepo.Repo
	redisRepo   *redisrepo.Repo
	bridges     []port.Bridge
	closeOnce   sync.Once
	closerChain []func() error
}

// New 创建新的容器实例
func New(cfg *config.Config) (*Container, error) {
	c := &Container{
		cfg:         cfg,
		closerChain: make([]func() error, 0),
	}

	c.static = storage.NewStatic()
	for _, s := range cfg.Symbols {
		c.static.Add(storage.SymbolEntry{
			Venue:         s.Broker,
			Symbol:        s.Symbol,
			Exchange:      s.Exchange,
			Token:         s.Token,
			VenueExchange: s.VenueExchange,
		})
	}

	if err := c.initStorage(); err != nil {
		// 清理已初始化的资源
		_ = c.Close()
		return nil, err
	}
	if err := c.initBridges(); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

// initStorage 初始化存储层（Redis、SQLite、Postgres）
func (c *Container) initStorage() error {
	if c.cfg.Storage.Redis.Enabled {
		if err := c.initRedis(); err != nil {
			return fmt.Errorf("redis init failed: %w", err)
		}
	}
	if c.cfg.Storage.SQLite.Enabled {
		if err := c.initSQLite(); err != nil {
			return fmt.Errorf("sqlite init failed: %w", err)
		}
	}
	if c.cfg.Storage.Postgres.Enabled {
		if err := c.initPostgres(); err != nil {
			return fmt.Errorf("postgres init failed: %w", err)
		}
	}
	return nil
}

// initRedis 初始化 Redis 连接
func (c *Container) initRedis() error {
	rcfg := c.cfg.Storage.Redis
	rdb := redis.NewClient(&redis.Options{
		Addr: rcfg.Addr,
		DB:   rcfg.DB,
	})

	// 测试连接
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return fmt.Errorf("redis ping failed: %w", err)
	}

	c.redisClient = rdb
	ttl := time.Duration(rcfg.TTLSec) * time.Second
	c.redisRepo = redisrepo.New(rdb, rcfg.Prefix, ttl)
	if rcfg.Publish {
		c.bridges = append(c.bridges, c.redisRepo)
	}

	// 注册关闭回调
	c.closerChain = append(c.closerChain, func() error {
		log.Info().Msg("closing redis connection")
		return rdb.Close()
	})

	log.Info().
		Str("addr", rcfg.Addr).
		Int("db", rcfg.DB).
		Bool("publish", rcfg.Publish).
		Msg("redis initialized")

	return nil
}

// initSQLite 初始化 SQLite 数据库
func (c *Container) initSQLite() error {
	repo, err := sqliterepo.New(c.cfg.Storage.SQLite.Path)
	if err != nil {
		return err
	}

	c.sqliteRepo = repo

	// 注册关闭回调
	c.closerChain = append(c.closerChain, func() error {
		log.Info().Msg("closing sqlite connection")
		return repo.Close()
	})

	log.Info().
		Str("path", c.cfg.Storage.SQLite.Path).
		Msg("sqlite initialized")

	return nil
}

func (c *Container) initPostgres() error {
	repo, err := pgrepo.New(c.cfg.Storage.Postgres.DSN)
	if err != nil {
		return err
	}
	c.pgRepo = repo
	c.closerChain = append(c.closerChain, func() error {
		log.Info().Msg("closing postgres connection")
		return repo.Close()
	})
	log.Info().Msg("postgres initialized")
	return nil
}

func (c *Container) initBridges() error {
	kcfg := c.cfg.Bridge.Kafka
	if !kcfg.Enabled {
		return nil
	}
	br := kafkabridge.New(kafkabridge.Config{Brokers: kcfg.Brokers, Topic: kcfg.Topic})
	c.bridges = append(c.bridges, br)
	c.closerChain = append(c.closerChain, func() error {
		log.Info().Msg("closing kafka writer")
		return br.Close()
	})
	log.Info().Strs("brokers", kcfg.Brokers).Str("topic", kcfg.Topic).Msg("kafka bridge initialized")
	return nil
}

// Config 获取配置
func (c *Container) Config() *config.Config {
	return c.cfg
}

// Resolvers 符号解析链：静态配置 → sqlite → postgres
func (c *Container) Resolvers() port.VenueResolver {
	sources := []port.VenueResolver{c.static}
	if c.sqliteRepo != nil {
		sources = append(sources, c.sqliteRepo)
	}
	if c.pgRepo != nil {
		sources = append(sources, c.pgRepo)
	}
	return composite.NewResolvers(sources...)
}

// Latest 最新值存储；未配置任何外部存储时退回进程内存
func (c *Container) Latest() port.Repository {
	var repos []port.Repository
	if c.redisRepo != nil {
		repos = append(repos, c.redisRepo)
	}
	if c.sqliteRepo != nil {
		repos = append(repos, c.sqliteRepo)
	}
	if c.pgRepo != nil {
		repos = append(repos, c.pgRepo)
	}
	if len(repos) == 0 {
		return storage.NewMemory()
	}
	return composite.New(repos...)
}

// Bridges 需要从总线转发的外部通道
func (c *Container) Bridges() []port.Bridge {
	return c.bridges
}

// RedisClient 获取 Redis 客户端
func (c *Container) RedisClient() *redis.Client {
	return c.redisClient
}

// SQLiteRepo 获取 SQLite 仓储
func (c *Container) SQLiteRepo() *sqliterepo.Repo {
	return c.sqliteRepo
}

// Close 关闭所有资源（按后进先出顺序）
func (c *Container) Close() error {
	var err error
	c.closeOnce.Do(func() {
		for i := len(c.closerChain) - 1; i >= 0; i-- {
			if e := c.closerChain[i](); e != nil {
				log.Error().Err(e).Msg("error closing resource")
				if err == nil {
					err = e
				}
			}
		}
		log.Info().Msg("container closed")
	})
	return err
}

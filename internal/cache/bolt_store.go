package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"
)

const (
	// DefaultDBPath 默认数据库路径
	DefaultDBPath = "./data/scores.db"

	// 存储桶名称
	ScoresBucket = "scores"
	MetaBucket   = "meta"

	lastPurgeKey = "last_purge"
)

// BoltStore 基于BoltDB的持久化存储，重启后缓存仍然有效（过期条目照常淘汰）
type BoltStore struct {
	db     *bolt.DB
	logger *logrus.Logger
	dbPath string
}

// NewBoltStore 打开或创建缓存数据库
func NewBoltStore(dbPath string, logger *logrus.Logger) (*BoltStore, error) {
	if dbPath == "" {
		dbPath = DefaultDBPath
	}

	// 确保目录存在
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("创建数据目录失败: %w", err)
	}

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("打开缓存数据库失败: %w", err)
	}

	store := &BoltStore{db: db, logger: logger, dbPath: dbPath}
	if err := store.initDB(); err != nil {
		db.Close()
		return nil, fmt.Errorf("初始化缓存数据库失败: %w", err)
	}

	logger.Infof("评分缓存数据库已打开: %s (%d 条)", dbPath, store.Len())
	return store, nil
}

// initDB 初始化存储桶
func (s *BoltStore) initDB() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{ScoresBucket, MetaBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("创建存储桶 %s 失败: %w", name, err)
			}
		}
		return nil
	})
}

func (s *BoltStore) Get(key string) (*Entry, bool, error) {
	var entry *Entry
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket([]byte(ScoresBucket)).Get([]byte(key))
		if data == nil {
			return nil
		}
		entry = &Entry{}
		return json.Unmarshal(data, entry)
	})
	if err != nil {
		return nil, false, fmt.Errorf("读取缓存条目 %s 失败: %w", key, err)
	}
	return entry, entry != nil, nil
}

func (s *BoltStore) Set(key string, entry *Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("序列化缓存条目失败: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(ScoresBucket)).Put([]byte(key), data)
	})
}

func (s *BoltStore) Delete(key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(ScoresBucket)).Delete([]byte(key))
	})
}

func (s *BoltStore) DeleteIfExpired(key string, now time.Time) (bool, error) {
	deleted := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(ScoresBucket))
		data := bucket.Get([]byte(key))
		if data == nil {
			return nil
		}
		var entry Entry
		if err := json.Unmarshal(data, &entry); err == nil && !entry.Expired(now) {
			return nil
		}
		deleted = true
		return bucket.Delete([]byte(key))
	})
	if err != nil {
		return false, fmt.Errorf("删除过期缓存条目 %s 失败: %w", key, err)
	}
	return deleted, nil
}

func (s *BoltStore) DeleteExpired(now time.Time) (int, error) {
	removed := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(ScoresBucket))

		var expired [][]byte
		err := bucket.ForEach(func(k, v []byte) error {
			var entry Entry
			// 无法解析的条目同样清理掉
			if err := json.Unmarshal(v, &entry); err != nil || entry.Expired(now) {
				expired = append(expired, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}

		for _, k := range expired {
			if err := bucket.Delete(k); err != nil {
				return err
			}
		}
		removed = len(expired)
		return nil
	})
	return removed, err
}

func (s *BoltStore) Purge() (int, error) {
	removed := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		removed = tx.Bucket([]byte(ScoresBucket)).Stats().KeyN
		if err := tx.DeleteBucket([]byte(ScoresBucket)); err != nil {
			return err
		}
		if _, err := tx.CreateBucket([]byte(ScoresBucket)); err != nil {
			return err
		}

		stamp, err := time.Now().UTC().MarshalText()
		if err != nil {
			return err
		}
		return tx.Bucket([]byte(MetaBucket)).Put([]byte(lastPurgeKey), stamp)
	})
	if err != nil {
		return 0, fmt.Errorf("清空缓存失败: %w", err)
	}
	return removed, nil
}

// LastPurge 返回最近一次清空时间，从未清空返回零值
func (s *BoltStore) LastPurge() time.Time {
	var t time.Time
	_ = s.db.View(func(tx *bolt.Tx) error {
		if data := tx.Bucket([]byte(MetaBucket)).Get([]byte(lastPurgeKey)); data != nil {
			return t.UnmarshalText(data)
		}
		return nil
	})
	return t
}

func (s *BoltStore) Len() int {
	n := 0
	_ = s.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket([]byte(ScoresBucket)).Stats().KeyN
		return nil
	})
	return n
}

// Path 获取数据库路径
func (s *BoltStore) Path() string {
	return s.dbPath
}

func (s *BoltStore) Close() error {
	if s.db != nil {
		s.logger.Info("关闭评分缓存数据库")
		return s.db.Close()
	}
	return nil
}

package filter

import (
	"fmt"
	"time"

	"github.com/YiuTerran/go-gamenet/base/structs/set"
	bolt "go.etcd.io/bbolt"
)

// BanList 被封禁的来源地址
type BanList interface {
	Ban(host string) error
	Unban(host string) error
	IsBanned(host string) bool
	List() []string
	Close() error
}

type memoryBanList struct {
	hosts *set.Set[string]
}

// NewMemoryBanList 进程内的封禁列表，重启后丢失
func NewMemoryBanList(hosts ...string) BanList {
	return &memoryBanList{hosts: set.NewSet(hosts...)}
}

func (m *memoryBanList) Ban(host string) error {
	m.hosts.AddItem(host)
	return nil
}

func (m *memoryBanList) Unban(host string) error {
	m.hosts.RemoveItem(host)
	return nil
}

func (m *memoryBanList) IsBanned(host string) bool {
	return m.hosts.Contains(host)
}

func (m *memoryBanList) List() []string {
	return m.hosts.ToArray()
}

func (m *memoryBanList) Close() error {
	return nil
}

var bannedBucket = []byte("banned")

// boltBanList 持久化到bbolt，内存中保留一份用于快速查询
type boltBanList struct {
	db    *bolt.DB
	cache *set.Set[string]
}

// OpenBoltBanList 打开（或创建）path处的封禁库，并载入已有记录
func OpenBoltBanList(path string) (BanList, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open ban list %s: %w", path, err)
	}
	b := &boltBanList{db: db, cache: set.NewSet[string]()}
	err = db.Update(func(tx *bolt.Tx) error {
		buck, err := tx.CreateBucketIfNotExists(bannedBucket)
		if err != nil {
			return err
		}
		return buck.ForEach(func(k, _ []byte) error {
			b.cache.AddItem(string(k))
			return nil
		})
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("load ban list %s: %w", path, err)
	}
	return b, nil
}

func (b *boltBanList) update(handler func(*bolt.Bucket) error) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		buck, err := tx.CreateBucketIfNotExists(bannedBucket)
		if err != nil {
			return err
		}
		return handler(buck)
	})
}

func (b *boltBanList) Ban(host string) error {
	err := b.update(func(buck *bolt.Bucket) error {
		return buck.Put([]byte(host), []byte(time.Now().UTC().Format(time.RFC3339)))
	})
	if err != nil {
		return err
	}
	b.cache.AddItem(host)
	return nil
}

func (b *boltBanList) Unban(host string) error {
	err := b.update(func(buck *bolt.Bucket) error {
		return buck.Delete([]byte(host))
	})
	if err != nil {
		return err
	}
	b.cache.RemoveItem(host)
	return nil
}

func (b *boltBanList) IsBanned(host string) bool {
	return b.cache.Contains(host)
}

func (b *boltBanList) List() []string {
	return b.cache.ToArray()
}

func (b *boltBanList) Close() error {
	return b.db.Close()
}

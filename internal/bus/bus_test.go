package bus

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"
)

type fakeKafka struct {
	fetches   kgo.Fetches
	committed []*kgo.Record
	offsets   map[string]map[int32]kgo.EpochOffset
	closed    bool
}

func (f *fakeKafka) PollRecords(context.Context, int) kgo.Fetches { return f.fetches }

func (f *fakeKafka) CommitRecords(_ context.Context, rs ...*kgo.Record) error {
	f.committed = append(f.committed, rs...)
	return nil
}

func (f *fakeKafka) SetOffsets(o map[string]map[int32]kgo.EpochOffset) { f.offsets = o }

func (f *fakeKafka) Close() { f.closed = true }

func record(topic string, partition int32, offset int64, value string) *kgo.Record {
	return &kgo.Record{Topic: topic, Partition: partition, Offset: offset, Value: []byte(value), LeaderEpoch: 3}
}

func fetchesOf(records ...*kgo.Record) kgo.Fetches {
	byTopic := map[string][]kgo.FetchPartition{}
	for _, r := range records {
		byTopic[r.Topic] = append(byTopic[r.Topic], kgo.FetchPartition{Partition: r.Partition, Records: []*kgo.Record{r}})
	}
	var topics []kgo.FetchTopic
	for name, parts := range byTopic {
		topics = append(topics, kgo.FetchTopic{Topic: name, Partitions: parts})
	}
	return kgo.Fetches{{Topics: topics}}
}

func TestKafkaPollCommitRewind(t *testing.T) {
	client := &fakeKafka{fetches: fetchesOf(
		record("ztf_20240101_programid1", 0, 41, "a"),
		record("ztf_20240101_programid1", 1, 7, "b"),
	)}
	src := NewKafkaSourceWithClient(client, 10, zerolog.Nop())

	msgs, err := src.Poll(context.Background())
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	require.NoError(t, src.Commit(context.Background(), msgs[0]))
	require.Len(t, client.committed, 1)
	assert.Equal(t, int64(41), client.committed[0].Offset)

	require.NoError(t, src.Rewind(context.Background(), msgs...))
	assert.Len(t, client.offsets["ztf_20240101_programid1"], 2)

	require.NoError(t, src.Close())
	assert.True(t, client.closed)
}

func TestKafkaCommitRejectsForeignMessage(t *testing.T) {
	src := NewKafkaSourceWithClient(&fakeKafka{}, 10, zerolog.Nop())
	assert.Error(t, src.Commit(context.Background(), Message{Topic: "t", ID: "1-0"}))
}

func TestRewindOffsetsKeepsEarliestPerPartition(t *testing.T) {
	msgs := []Message{
		fromRecord(record("t", 0, 12, "")),
		fromRecord(record("t", 0, 10, "")),
		fromRecord(record("t", 0, 11, "")),
		fromRecord(record("u", 2, 5, "")),
	}
	got := rewindOffsets(msgs)

	assert.Equal(t, kgo.EpochOffset{Epoch: 3, Offset: 10}, got["t"][0])
	assert.Equal(t, kgo.EpochOffset{Epoch: 3, Offset: 5}, got["u"][2])
}

func TestMatchStreams(t *testing.T) {
	pattern := regexp.MustCompile(`^ztf_\d{8}_programid1$`)
	keys := []string{"ztf_20240102_programid1", "ztf_20240101_programid2", "other", "ztf_20240101_programid1"}

	assert.Equal(t, []string{"ztf_20240101_programid1", "ztf_20240102_programid1"}, matchStreams(keys, pattern))
}

func TestReadArgs(t *testing.T) {
	args := readArgs([]string{"a", "b"}, map[string]bool{"b": true})
	assert.Equal(t, []string{"a", "b", ">", "0"}, args)
}

func TestFromEntry(t *testing.T) {
	msg, ok := fromEntry("ztf_20240101_programid1", redis.XMessage{
		ID:     "1700000000000-0",
		Values: map[string]interface{}{"data": "\x4f\x62\x6a\x01", "key": "TEST01"},
	})
	require.True(t, ok)
	assert.Equal(t, []byte("Obj\x01"), msg.Value)
	assert.Equal(t, []byte("TEST01"), msg.Key)
	assert.Equal(t, time.UnixMilli(1700000000000).UTC(), msg.Timestamp)
	assert.Equal(t, "ztf_20240101_programid1/1700000000000-0", msg.String())

	_, ok = fromEntry("s", redis.XMessage{ID: "1-0", Values: map[string]interface{}{}})
	assert.False(t, ok)
}

func TestGroupIDs(t *testing.T) {
	got := groupIDs([]Message{
		{Topic: "a", ID: "1-0"},
		{Topic: "b", ID: "2-0"},
		{Topic: "a", ID: "3-0"},
		{Topic: "a"},
	})
	assert.Equal(t, map[string][]string{"a": {"1-0", "3-0"}, "b": {"2-0"}}, got)
}

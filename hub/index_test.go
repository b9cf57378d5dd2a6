package hub

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSubscriptionIndexBasicFlow(t *testing.T) {
	assert := assert.New(t)

	uut := newSubscriptionIndex()

	target1 := Subscription{Type: ClassBloodRequest, ResourceID: "req-01"}
	target2 := Subscription{Type: ClassBloodRequestList, ResourceID: WildcardResourceID}

	// Case 1: fresh subscribe records both directions
	{
		assert.True(uut.subscribe("conn-1", target1))
		assert.ElementsMatch([]string{"conn-1"}, uut.membersOf(target1.Key()))
		assert.Equal([]Subscription{target1}, uut.snapshotFor("conn-1"))
		assert.Equal(1, uut.totalSubscriptions())
		assert.Equal(1, uut.topicCount())
	}

	// Case 2: duplicate subscribe is idempotent
	{
		assert.False(uut.subscribe("conn-1", target1))
		assert.Equal(1, uut.totalSubscriptions())
		assert.Len(uut.membersOf(target1.Key()), 1)
	}

	// Case 3: multiple members on one topic
	{
		assert.True(uut.subscribe("conn-2", target1))
		assert.True(uut.subscribe("conn-2", target2))
		assert.ElementsMatch([]string{"conn-1", "conn-2"}, uut.membersOf(target1.Key()))
		assert.Equal(3, uut.totalSubscriptions())
		assert.Equal(2, uut.topicCount())
	}

	// Case 4: unsubscribe prunes only the matching membership
	{
		assert.True(uut.unsubscribe("conn-1", target1))
		assert.False(uut.unsubscribe("conn-1", target1))
		assert.ElementsMatch([]string{"conn-2"}, uut.membersOf(target1.Key()))
		assert.Empty(uut.snapshotFor("conn-1"))
	}

	// Case 5: last member leaving prunes the topic
	{
		assert.True(uut.unsubscribe("conn-2", target1))
		assert.Nil(uut.membersOf(target1.Key()))
		assert.Equal(1, uut.topicCount())
	}
}

func TestSubscriptionIndexRemoveAll(t *testing.T) {
	assert := assert.New(t)

	uut := newSubscriptionIndex()

	targets := []Subscription{
		{Type: ClassBloodRequest, ResourceID: "req-01"},
		{Type: ClassBloodDonor, ResourceID: "donor-01"},
		{Type: ClassNotification, ResourceID: "user-01"},
	}
	for _, target := range targets {
		assert.True(uut.subscribe("conn-1", target))
	}
	assert.True(uut.subscribe("conn-2", targets[0]))

	// Case 1: removeAll clears every membership of one connection
	{
		uut.removeAll("conn-1")
		assert.Empty(uut.snapshotFor("conn-1"))
		assert.ElementsMatch([]string{"conn-2"}, uut.membersOf(targets[0].Key()))
		assert.Equal(1, uut.totalSubscriptions())
		assert.Equal(1, uut.topicCount())
	}

	// Case 2: repeat removeAll is a no-op
	{
		uut.removeAll("conn-1")
		uut.removeAll("unknown-conn")
		assert.Equal(1, uut.totalSubscriptions())
	}
}

func TestSubscriptionIndexSnapshotOrdering(t *testing.T) {
	assert := assert.New(t)

	uut := newSubscriptionIndex()

	assert.True(uut.subscribe(
		"conn-1", Subscription{Type: ClassNotification, ResourceID: "user-01"},
	))
	assert.True(uut.subscribe(
		"conn-1", Subscription{Type: ClassBloodRequest, ResourceID: "req-01"},
	))
	assert.True(uut.subscribe(
		"conn-1", Subscription{Type: ClassBloodDonor, ResourceID: "donor-01"},
	))

	// Snapshot order follows the topic key sort, stable across reads
	snapshot := uut.snapshotFor("conn-1")
	assert.Equal([]Subscription{
		{Type: ClassBloodDonor, ResourceID: "donor-01"},
		{Type: ClassBloodRequest, ResourceID: "req-01"},
		{Type: ClassNotification, ResourceID: "user-01"},
	}, snapshot)
	assert.Equal(snapshot, uut.snapshotFor("conn-1"))
}

package hub

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseResourceClass(t *testing.T) {
	assert := assert.New(t)

	// Case 1: known classes
	{
		for _, name := range []string{
			"BLOOD_REQUEST", "BLOOD_DONOR", "NOTIFICATION",
			"BLOOD_REQUEST_LIST", "BLOOD_DONOR_LIST",
		} {
			class, err := ParseResourceClass(name)
			assert.Nil(err)
			assert.Equal(name, string(class))
		}
	}

	// Case 2: unknown class
	{
		_, err := ParseResourceClass("BLOOD_BANK")
		assert.NotNil(err)
		_, err = ParseResourceClass("")
		assert.NotNil(err)
	}
}

func TestListClassPairing(t *testing.T) {
	assert := assert.New(t)

	listClass, ok := ClassBloodRequest.ListClass()
	assert.True(ok)
	assert.Equal(ClassBloodRequestList, listClass)

	listClass, ok = ClassBloodDonor.ListClass()
	assert.True(ok)
	assert.Equal(ClassBloodDonorList, listClass)

	_, ok = ClassNotification.ListClass()
	assert.False(ok)
	_, ok = ClassBloodRequestList.ListClass()
	assert.False(ok)
}

func TestSubscriptionKey(t *testing.T) {
	assert := assert.New(t)

	assert.Equal(
		"BLOOD_REQUEST:req-01",
		Subscription{Type: ClassBloodRequest, ResourceID: "req-01"}.Key(),
	)
	assert.Equal(
		"BLOOD_DONOR_LIST:ALL",
		Subscription{Type: ClassBloodDonorList, ResourceID: WildcardResourceID}.Key(),
	)
}

func TestParseClientRequest(t *testing.T) {
	assert := assert.New(t)

	// Case 1: subscribe
	{
		request, err := ParseClientRequest(
			[]byte(`{"action":"subscribe","type":"BLOOD_REQUEST","resourceId":"req-01"}`),
		)
		assert.Nil(err)
		assert.Equal(ClientActionSubscribe, request.Action)
		assert.Equal(
			Subscription{Type: ClassBloodRequest, ResourceID: "req-01"}, request.Target,
		)
	}

	// Case 2: unsubscribe
	{
		request, err := ParseClientRequest(
			[]byte(`{"action":"unsubscribe","type":"BLOOD_DONOR_LIST","resourceId":"ALL"}`),
		)
		assert.Nil(err)
		assert.Equal(ClientActionUnsubscribe, request.Action)
		assert.Equal(WildcardResourceID, request.Target.ResourceID)
	}

	// Case 3: ping and get_subscriptions carry no target
	{
		request, err := ParseClientRequest([]byte(`{"action":"ping"}`))
		assert.Nil(err)
		assert.Equal(ClientActionPing, request.Action)

		request, err = ParseClientRequest([]byte(`{"action":"get_subscriptions"}`))
		assert.Nil(err)
		assert.Equal(ClientActionGetSubscriptions, request.Action)
	}

	// Case 4: unknown action
	{
		_, err := ParseClientRequest([]byte(`{"action":"replay"}`))
		assert.NotNil(err)
	}

	// Case 5: unknown resource class
	{
		_, err := ParseClientRequest(
			[]byte(`{"action":"subscribe","type":"BLOOD_BANK","resourceId":"x"}`),
		)
		assert.NotNil(err)
	}

	// Case 6: missing fields
	{
		_, err := ParseClientRequest([]byte(`{"action":"subscribe"}`))
		assert.NotNil(err)
		_, err = ParseClientRequest(
			[]byte(`{"action":"subscribe","type":"BLOOD_REQUEST"}`),
		)
		assert.NotNil(err)
	}

	// Case 7: not JSON
	{
		_, err := ParseClientRequest([]byte(`subscribe BLOOD_REQUEST req-01`))
		assert.NotNil(err)
	}
}

func TestServerMessageEnvelope(t *testing.T) {
	assert := assert.New(t)

	before := time.Now().UnixMilli()
	msg := NewBroadcastMessage(ClassBloodRequest, "req-01", "update", `{"id":"req-01"}`)
	after := time.Now().UnixMilli()

	assert.Equal("BLOOD_REQUEST", msg.Type)
	assert.Equal("update", msg.Action)
	assert.GreaterOrEqual(msg.Timestamp, before)
	assert.LessOrEqual(msg.Timestamp, after)

	serialized, err := json.Marshal(&msg)
	assert.Nil(err)
	var onWire map[string]interface{}
	assert.Nil(json.Unmarshal(serialized, &onWire))
	assert.Equal("BLOOD_REQUEST", onWire["type"])
	assert.Equal("update", onWire["action"])
	assert.Equal("req-01", onWire["resourceId"])
	// The payload travels as a JSON encoded string
	assert.Equal(`{"id":"req-01"}`, onWire["data"])

	system := NewSystemMessage("pong", "conn-id", `{"timestamp":1}`)
	assert.Equal(SystemMessageType, system.Type)
	assert.Equal("pong", system.Action)
}

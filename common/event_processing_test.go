package common

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/apex/log"
	"github.com/stretchr/testify/assert"
)

func TestTaskParamProcessing(t *testing.T) {
	assert := assert.New(t)

	ctxt, cancel := context.WithCancel(context.Background())
	defer cancel()
	uut, err := GetNewTaskProcessorInstance("testing", 4, ctxt)
	assert.Nil(err)
	defer func() {
		assert.Nil(uut.StopEventLoop())
	}()

	// recast to source
	uutc := uut.(*taskProcessorImpl)

	// Case 1: no executor map
	{
		assert.NotNil(uutc.processNewTaskParam("hello"))
	}

	type testStruct1 struct{}
	type testStruct2 struct{}
	type testStruct3 struct{}

	executorMap := map[reflect.Type]TaskHandler{
		reflect.TypeOf(testStruct1{}): func(p interface{}) error {
			return nil
		},
	}

	// Case 2: define a executor map
	{
		assert.Nil(uut.SetTaskExecutionMap(executorMap))
		assert.Nil(uutc.processNewTaskParam(testStruct1{}))
		assert.NotNil(uutc.processNewTaskParam(testStruct2{}))
		assert.NotNil(uutc.processNewTaskParam(&testStruct3{}))
	}

	executorMap = map[reflect.Type]TaskHandler{
		reflect.TypeOf(testStruct1{}): func(p interface{}) error { return nil },
		reflect.TypeOf(testStruct3{}): func(p interface{}) error { return fmt.Errorf("Dummy error") },
	}

	// Case 3: change executor map
	{
		assert.Nil(uut.SetTaskExecutionMap(executorMap))
		assert.Nil(uutc.processNewTaskParam(testStruct1{}))
		assert.NotNil(uutc.processNewTaskParam(&testStruct2{}))
		assert.NotNil(uutc.processNewTaskParam(testStruct3{}))
	}

	// Case 4: append to existing map
	{
		assert.Nil(uut.AddToTaskExecutionMap(
			reflect.TypeOf(&testStruct2{}), func(p interface{}) error { return nil },
		))
		assert.Nil(uutc.processNewTaskParam(testStruct1{}))
		assert.Nil(uutc.processNewTaskParam(&testStruct2{}))
		assert.NotNil(uutc.processNewTaskParam(testStruct3{}))
	}
}

func TestTaskProcessingEventLoop(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	wg := sync.WaitGroup{}
	defer wg.Wait()
	ctxt, cancel := context.WithCancel(context.Background())
	defer cancel()
	uut, err := GetNewTaskProcessorInstance("testing", 4, ctxt)
	assert.Nil(err)
	defer func() {
		assert.Nil(uut.StopEventLoop())
	}()

	calls := 0

	type testStruct1 struct{}

	testWG := sync.WaitGroup{}
	executorMap := map[reflect.Type]TaskHandler{
		reflect.TypeOf(testStruct1{}): func(p interface{}) error {
			calls++
			testWG.Done()
			return nil
		},
	}
	assert.Nil(uut.SetTaskExecutionMap(executorMap))

	// start the built in process
	assert.Nil(uut.StartEventLoop(&wg))

	// Case 1: trigger
	{
		testWG.Add(1)
		useContext, lclCancel := context.WithTimeout(context.Background(), time.Second)
		assert.Nil(uut.Submit(useContext, testStruct1{}))
		lclCancel()
		testWG.Wait()
		assert.Equal(1, calls)
	}

	// Case 2: trigger back to back
	{
		testWG.Add(2)
		useContext, lclCancel := context.WithTimeout(context.Background(), time.Second)
		assert.Nil(uut.Submit(useContext, testStruct1{}))
		assert.Nil(uut.Submit(useContext, testStruct1{}))
		lclCancel()
		testWG.Wait()
		assert.Equal(3, calls)
	}
}

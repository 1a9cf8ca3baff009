package workerpool

import (
	"context"
	"errors"
	"runtime"
	"sync/atomic"
	"testing"
	"time"
)

func Test_WorkerPool(t *testing.T) {
	startThreads := runtime.NumGoroutine()

	totalWorker := 5
	sleepTime := 5 * time.Millisecond
	totalTask := 200
	wp := New(totalWorker, totalTask)

	var completed atomic.Int64
	for i := 0; i < totalTask; i++ {
		wp.AddTask(func(ctx context.Context) error {
			completed.Add(1)
			time.Sleep(sleepTime)
			return nil
		})
	}
	start := time.Now()

	wp.Run(context.Background())
	if err := wp.Wait(); err != nil {
		t.Fatal(err)
	}
	if got, want := completed.Load(), int64(totalTask); got != want {
		t.Errorf("got %v want %v", got, want)
	}

	elapsed := time.Since(start)
	if got, want := float64(elapsed.Milliseconds()), float64(sleepTime.Milliseconds()*int64(totalTask)/int64(totalWorker))*1.4; got > want {
		t.Errorf("unexpected execution time, expected t < %vms, got t=%vms", want, got)
	}

	wp.Quit()
	time.Sleep(10 * time.Millisecond)
	endThreads := runtime.NumGoroutine()
	if startThreads != endThreads {
		t.Errorf("unexpected go thread count: got %v, want %v", endThreads, startThreads)
	}
}

func Test_WorkerPoolErrors(t *testing.T) {
	wp := New(2, 4)
	wp.Run(context.Background())
	defer wp.Quit()

	errBoom := errors.New("boom")
	for i := 0; i < 4; i++ {
		wp.AddTask(func(ctx context.Context) error {
			if i%2 == 0 {
				return errBoom
			}
			return nil
		})
	}
	err := wp.Wait()
	if !errors.Is(err, errBoom) {
		t.Errorf("got %v want %v", err, errBoom)
	}
}

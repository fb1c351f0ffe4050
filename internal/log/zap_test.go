package log

import "testing"

func TestInit(t *testing.T) {
	if err := Init(Config{Verbose: true}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	Sugar.Info("zap log", "success", true, 1)
	Sugar.Infof("zap log success %t %d", true, 1)
	Sugar.Infow("zap log", "success", true)
}

func TestInitWithFile(t *testing.T) {
	dir := t.TempDir()
	if err := Init(Config{File: dir + "/relaydns.log", MaxAge: 1, MaxSize: 1, MaxBackups: 1}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	Sugar.Warn("rotated sink reachable")
}

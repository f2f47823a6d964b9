package edge

// Observer 边缘事件计数（指标适配）
type Observer interface {
	Record(event, result string)
}

type ObserverFunc func(event, result string)

func (f ObserverFunc) Record(event, result string) {
	if f != nil {
		f(event, result)
	}
}

func NopObserver() Observer {
	return ObserverFunc(func(string, string) {})
}

package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// LifecycleFields 提供 install/activate 阶段共用的字段。
func LifecycleFields(action, version, state string) logrus.Fields {
	return logrus.Fields{
		"action":  action,
		"version": version,
		"state":   state,
	}
}

// RequestFields 提供版本/方法/URL/处理结果字段，供拦截请求日志复用。
func RequestFields(version, method, url, requestID, outcome string) logrus.Fields {
	fields := logrus.Fields{
		"version": version,
		"method":  method,
		"url":     url,
	}
	if outcome != "" {
		fields["outcome"] = outcome
	}
	if requestID != "" {
		fields["request_id"] = requestID
	}
	return fields
}
